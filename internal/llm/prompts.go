package llm

const classifySystemPrompt = `あなたはコールセンターの通話分類エキスパートです。
通話内容を分析し、最も適切なオペレーションフローを判定してください。

レスポンスは以下のJSON形式で返してください：
` + "```json" + `
{
    "flow_id": "選択したフローのID（該当なしの場合はnull）",
    "flow_name": "選択したフロー名",
    "confidence": 0.0-1.0の信頼度,
    "reasoning": "判定理由の説明"
}
` + "```"

const complianceSystemPrompt = `あなたはコールセンターの品質管理エキスパートです。
通話内容がオペレーションフローに沿っているか確認してください。

レスポンスは以下のJSON形式で返してください：
` + "```json" + `
{
    "is_compliant": true/false,
    "overall_score": 0-100のスコア,
    "step_results": [
        {"step": "ステップ名", "completed": true/false, "notes": "備考"}
    ],
    "missing_steps": ["欠落したステップ名のリスト"],
    "issues": ["発見された問題点のリスト"]
}
` + "```"

// DefaultQualityPrompt is the rubric used when the tenant has not configured
// its own quality prompt.
const DefaultQualityPrompt = `あなたはコールセンターの品質評価エキスパートです。
通話内容を以下の基準で評価してください：

1. 挨拶・名乗り (10点)
2. 傾聴・共感 (20点)
3. 説明の明確さ (20点)
4. 問題解決力 (25点)
5. クロージング (10点)
6. 言葉遣い・敬語 (15点)

レスポンスは以下のJSON形式で返してください：
` + "```json" + `
{
    "overall_score": 0-100の総合スコア,
    "criteria_scores": {
        "greeting": 0-10,
        "listening": 0-20,
        "clarity": 0-20,
        "problem_solving": 0-25,
        "closing": 0-10,
        "language": 0-15
    },
    "strengths": ["良かった点のリスト"],
    "improvements": ["改善点のリスト"]
}
` + "```"

const summarySystemPrompt = `あなたはコールセンターの通話分析エキスパートです。
通話内容を分析し、要約と分類を行ってください。

レスポンスは以下のJSON形式で返してください：
` + "```json" + `
{
    "summary": "通話内容の要約（100-200文字）",
    "inquiry_category": "問い合わせ種別（例：注文確認、商品問い合わせ、クレーム、技術サポート等）",
    "key_points": ["重要ポイントのリスト"],
    "resolution": "解決内容（未解決の場合はnull）",
    "follow_up_required": true/false
}
` + "```"

const fillerSystemPrompt = `あなたは言語分析エキスパートです。
通話内容からフィラー（えーと、あの、その等）と間（沈黙）を分析してください。

レスポンスは以下のJSON形式で返してください：
` + "```json" + `
{
    "filler_count": フィラーの総数,
    "fillers": [
        {"word": "フィラー語", "count": 出現回数}
    ],
    "silence_duration": 推定沈黙時間（秒）,
    "silence_segments": [
        {"description": "沈黙の説明", "duration": 推定秒数}
    ]
}
` + "```"

const (
	classifyUserTemplate   = "以下の通話内容を分析し、最も適切なオペレーションフローを選択してください。\n\n## 利用可能なフロー:\n%s\n\n## 通話内容:\n%s\n\nどのフローに該当するか判定してください。"
	complianceUserTemplate = "以下の通話内容が、オペレーションフローに沿っているか確認してください。\n\n## オペレーションフロー:\n%s\n\n## 通話内容:\n%s\n\n各ステップの遵守状況を評価してください。"
	qualityUserTemplate    = "以下の通話内容を評価してください。\n\n## 通話内容:\n%s\n\n品質スコアを算出してください。"
	summaryUserTemplate    = "以下の通話内容を要約・分類してください。\n\n## 通話内容:\n%s\n\n要約と問い合わせ種別を判定してください。"
	fillerUserTemplate     = "以下の通話内容からフィラーと沈黙を分析してください。\n\n## 通話内容:\n%s\n\nフィラーの使用状況と沈黙を分析してください。"
)

// DefaultInquiryCategory is used when the model does not name a category.
const DefaultInquiryCategory = "その他"
