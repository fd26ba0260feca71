package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/callquality/backend/internal/biztel"
	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
)

type ImportSummary struct {
	TotalRows    int      `json:"total_rows"`
	CreatedCount int      `json:"created_count"`
	SkippedCount int      `json:"skipped_count"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
}

type importRow struct {
	Line             int
	Call             models.CallRecord
	OperatorBiztelID string
	OperatorName     string
}

// @Summary Import call metadata
// @Description Bulk-creates call records from a .csv or .xlsx sheet. Rows that fail to parse are skipped and reported.
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param file formData file true "calls.csv or calls.xlsx"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/tenants/{tenant_id}/calls/import [post]
func (h *Handler) ImportCalls(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file required", nil)
		return
	}
	if !validateExt(file.Filename) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file must be .csv or .xlsx", nil)
		return
	}

	tenantID := c.Param("tenant_id")
	ctx := c.Request.Context()
	if _, err := h.Store.GetTenant(ctx, tenantID); err != nil {
		writeStoreError(c, err, "Tenant")
		return
	}

	records, err := readSheet(file)
	if err != nil {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "Failed to read file", err.Error())
		return
	}
	rows, summary, err := parseCallRows(records, h.location(), h.LenientInts)
	if err != nil {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", err.Error(), nil)
		return
	}

	operators := map[string]*string{}
	for _, r := range rows {
		call := r.Call
		call.TenantID = tenantID
		if r.OperatorBiztelID != "" {
			id, err := h.importOperator(c, tenantID, r, operators)
			if err != nil {
				summary.SkippedCount++
				summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: operator: %v", r.Line, err))
				continue
			}
			call.OperatorID = id
		}
		if _, err := h.Store.CreateCall(ctx, call); err != nil {
			summary.SkippedCount++
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: %v", r.Line, err))
			continue
		}
		summary.CreatedCount++
	}

	h.Logger.Info().
		Str("tenant_id", tenantID).
		Int("total", summary.TotalRows).
		Int("created", summary.CreatedCount).
		Int("skipped", summary.SkippedCount).
		Msg("call import finished")
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) importOperator(c *gin.Context, tenantID string, r importRow, cache map[string]*string) (*string, error) {
	if id, ok := cache[r.OperatorBiztelID]; ok {
		return id, nil
	}
	ctx := c.Request.Context()
	op, err := h.Store.FindOperatorByBiztelID(ctx, tenantID, r.OperatorBiztelID)
	if errors.Is(err, db.ErrNotFound) {
		name := r.OperatorName
		if name == "" {
			name = r.OperatorBiztelID
		}
		biztelID := r.OperatorBiztelID
		op, err = h.Store.CreateOperator(ctx, models.Operator{TenantID: tenantID, BiztelOperatorID: &biztelID, Name: name})
	}
	if err != nil {
		return nil, err
	}
	cache[r.OperatorBiztelID] = &op.ID
	return &op.ID, nil
}

// readSheet returns every row of a CSV file or of the first XLSX sheet,
// header included.
func readSheet(file *multipart.FileHeader) ([][]string, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(file.Filename)) == ".xlsx" {
		book, err := excelize.OpenReader(f)
		if err != nil {
			return nil, err
		}
		defer book.Close()
		sheets := book.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		return book.GetRows(sheets[0])
	}

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	var out [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseCallRows maps sheet rows onto call records. With lenient set, an
// unreadable duration is dropped with a warning; otherwise the row is skipped.
func parseCallRows(records [][]string, loc *time.Location, lenient bool) ([]importRow, ImportSummary, error) {
	summary := ImportSummary{Errors: []string{}, Warnings: []string{}}
	if len(records) == 0 {
		return nil, summary, errors.New("failed to read header")
	}
	index := headerIndex(records[0])
	if _, ok := lookupHeader(index, eventDatetimeHeaders...); !ok {
		return nil, summary, errors.New("missing event_datetime column")
	}

	var out []importRow
	for i, rec := range records[1:] {
		line := i + 2
		if blankRow(rec) {
			continue
		}
		summary.TotalRows++

		rawTime := getFieldAny(rec, index, eventDatetimeHeaders...)
		eventAt := parseEventTime(rawTime, loc)
		if eventAt.IsZero() {
			summary.SkippedCount++
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: invalid event_datetime %q", line, rawTime))
			continue
		}

		row := importRow{
			Line:             line,
			OperatorBiztelID: getFieldAny(rec, index, "operator_id", "オペレーターid", "account_id"),
			OperatorName:     getFieldAny(rec, index, "operator_name", "オペレーター名", "account_name"),
			Call: models.CallRecord{
				EventDatetime:       eventAt,
				CallerNumber:        optionalField(rec, index, "caller_number", "発信者番号", "caller_id"),
				CalleeNumber:        optionalField(rec, index, "callee_number", "着信番号", "called_id"),
				CallCenterName:      optionalField(rec, index, "call_center_name", "コールセンター名", "queue_name"),
				CallCenterExtension: optionalField(rec, index, "call_center_extension", "内線番号", "queue_exten"),
				BusinessLabel:       optionalField(rec, index, "business_label", "業務ラベル", "business_name"),
				AnalysisStatus:      models.StatusPending,
			},
		}

		ok := true
		for _, col := range []struct {
			name    string
			aliases []string
			dst     **int
		}{
			{"wait_time_seconds", []string{"wait_time_seconds", "待ち時間", "hold_time"}, &row.Call.WaitTimeSeconds},
			{"talk_time_seconds", []string{"talk_time_seconds", "通話時間", "call_time"}, &row.Call.TalkTimeSeconds},
		} {
			raw := getFieldAny(rec, index, col.aliases...)
			if raw == "" {
				continue
			}
			n, err := parseOptionalInt(raw)
			if err == nil {
				*col.dst = &n
				continue
			}
			if lenient {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("row %d: ignoring %s %q", line, col.name, raw))
				continue
			}
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %d: invalid %s %q", line, col.name, raw))
			ok = false
			break
		}
		if !ok {
			summary.SkippedCount++
			continue
		}
		out = append(out, row)
	}
	return out, summary, nil
}

// parseEventTime accepts the provider layouts plus slash dates and minute
// precision, as spreadsheets tend to export them.
func parseEventTime(raw string, loc *time.Location) time.Time {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "/", "-")
	if t := biztel.ParseTime(raw, loc); !t.IsZero() {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc); err == nil {
		return t
	}
	return time.Time{}
}

var eventDatetimeHeaders = []string{"event_datetime", "日時", "通話日時", "start_time"}

// parseOptionalInt accepts "42", "42.0" and " 42 ". Fractional values are rejected.
func parseOptionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	return int(f), nil
}

func optionalField(rec []string, idx map[string]int, names ...string) *string {
	v := getFieldAny(rec, idx, names...)
	if v == "" {
		return nil
	}
	return &v
}

func blankRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func lookupHeader(idx map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if pos, ok := idx[normalizeHeader(name)]; ok {
			return pos, true
		}
	}
	return 0, false
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func validateExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".csv" || ext == ".xlsx"
}
