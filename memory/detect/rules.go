package detect

// Rule tables for both detectors. Every entry is a Go regexp; matching is
// case-insensitive. English words carry their own \b anchors, Chinese
// phrases are matched as plain substrings. Order inside a list is priority
// order: the first matching entry wins.

// PersonalCategory is one family of personal-disclosure phrases.
type PersonalCategory struct {
	Name       string
	Confidence float64
	Patterns   []string
}

// TriggerRules drives TriggerDetector.
type TriggerRules struct {
	QueryOpeners  []string
	QuerySuffixes []string
	QueryPhrases  []string

	// ImportanceMarkers flag the whole utterance as an important fact. They
	// are checked before ExplicitKeywords, so "remember this" is not read as
	// the keyword "remember" followed by the content "this".
	ImportanceMarkers []string
	ExplicitKeywords  []string

	Personal []PersonalCategory

	FirstPerson []string
	ActionVerbs []string
	FuturePlan  []string
	Importance  []string

	QueryConfidence       float64
	ExplicitConfidence    float64
	DeclarativeConfidence float64
	PlanConfidence        float64
	ImportantConfidence   float64
}

// DeletionRules drives DeletionDetector.
type DeletionRules struct {
	// Exemptions are phrases that look like deletion keywords but are not,
	// e.g. "don't forget".
	Exemptions []string

	// Patterns holds compound patterns first, then single keywords.
	Patterns []string

	AllQualifiers    []string
	RecentQualifiers []string

	// TargetFillers are stripped from the start of the extracted target.
	TargetFillers []string
}

// DefaultTriggerRules returns the built-in bilingual trigger tables.
func DefaultTriggerRules() TriggerRules {
	return TriggerRules{
		QueryOpeners: []string{
			`^(什麼|怎麼|為什麼|在哪|何時|誰|哪個|哪裡)`,
			`^(what|what's|whats|how|why|where|when|who|whom|whose|which)\b`,
			`^(do|does|did|is|are|was|were|can|could|will|would|should|shall|have|has|may)\s+(you|i|we|it|he|she|they|there|my|your|the|this|that)\b`,
		},
		QuerySuffixes: []string{"?", "？", "嗎", "呢", "吧"},
		QueryPhrases: []string{
			`什麼是`, `怎麼`, `為什麼`, `在哪裡`, `什麼時候`, `誰是`,
			`告訴我`, `解釋`, `說明`, `能不能`, `可以嗎`,
			`你會`, `你是`, `你的`, `你能`, `你可以`, `你知道`,
			`\btell me (about|what|who|where|when|why|how)\b`,
			`\bexplain\b`,
			`\bdo you (know|remember)\b`,
			`\b(can|could) you tell\b`,
		},
		ImportanceMarkers: []string{
			`記住這個`, `記住這件事`, `別忘記`, `別忘了`, `不要忘記`, `不要忘了`,
			`\bremember this\b`, `\b(don'?t|do not) forget\b`,
		},
		ExplicitKeywords: []string{
			`幫我記住`, `請記住`, `記住`, `記下來`, `記下`, `記一下`,
			`記錄`, `存起來`, `保存`, `儲存`, `要記得`,
			`\bkeep in mind\b`, `\bsave this\b`, `\bremember\b`,
		},
		Personal: []PersonalCategory{
			{Name: "identity", Confidence: 0.85, Patterns: []string{
				`我叫`, `我的名字`, `我是`, `我的職業`, `我住在`, `我來自`, `我在`,
				`\bmy name is\b`, `\bi am called\b`, `\bcall me\b`, `\bi live in\b`,
				`\bi'?m from\b`, `\bi am from\b`, `\bi work (as|at|for)\b`, `\bmy job is\b`,
			}},
			{Name: "preference", Confidence: 0.85, Patterns: []string{
				`我喜歡`, `我不喜歡`, `我愛`, `我討厭`, `我傾向`, `我偏好`,
				`\bi (really )?(like|love|hate|enjoy|prefer)\b`, `\bi (don'?t|do not) like\b`,
				`\bmy favou?rite\b`,
			}},
			{Name: "status", Confidence: 0.75, Patterns: []string{
				`我今年`, `歲`, `我現在`, `我的生日`, `我的年齡`,
				`\bi am \d+ years old\b`, `\bi'?m \d+\b`, `\bmy birthday is\b`, `\bmy age is\b`,
				`\d{4}年\d{1,2}月\d{1,2}日`, `\b\d{1,2}/\d{1,2}/\d{4}\b`,
				`\w+@\w+\.\w+`, `\+?\d{10,}`,
			}},
			{Name: "experience", Confidence: 0.75, Patterns: []string{
				`我以前`, `我曾經`, `我記得`, `我經歷過`, `我做過`,
				`\bi used to\b`, `\bi once\b`, `\bi'?ve been to\b`, `\bi have been to\b`,
			}},
			{Name: "plan", Confidence: 0.75, Patterns: []string{
				`我打算`, `我計劃`, `我想要`, `我希望`, `提醒我`, `記住我要`,
				`\bi plan to\b`, `\bi'?m planning to\b`, `\bi'?m going to\b`, `\bi am going to\b`,
				`\bi want to\b`, `\bi hope to\b`, `\bremind me\b`,
			}},
			{Name: "important", Confidence: 0.75, Patterns: []string{
				`這很重要`, `別忘記`, `要記住`, `記下來`, `存起來`,
				`\bthis is important\b`,
			}},
		},
		FirstPerson: []string{
			`我`,
			`\b(i|i'm|i've|i'd|i'll|me|my|mine)\b`,
		},
		ActionVerbs: []string{
			`是`, `在`, `有`, `做`, `喜歡`, `討厭`, `住`, `工作`, `學習`,
			`\b(am|is|are|was|were|have|has|had|do|did|own|owns|work|works|worked|study|studies|live|lives|lived|like|likes|eat|eats|play|plays|go|went)\b`,
		},
		FuturePlan: []string{
			`打算`, `計劃`, `想要`, `希望`, `準備`, `將會`, `要`, `會`,
			`明天`, `下週`, `下個月`, `以後`, `等等`, `提醒我`,
			`\b(tomorrow|tonight|later|will|going to|plan to|planning to)\b`,
			`\bnext (week|month|year)\b`,
		},
		Importance: []string{
			`重要`, `關鍵`, `必須`, `一定要`, `務必`, `千萬`, `特別`, `注意`, `記住`, `別忘了`,
			`\b(important|crucial|critical|must|never|always)\b`,
		},
		QueryConfidence:       0.9,
		ExplicitConfidence:    0.95,
		DeclarativeConfidence: 0.65,
		PlanConfidence:        0.8,
		ImportantConfidence:   0.7,
	}
}

// DefaultDeletionRules returns the built-in bilingual deletion tables.
func DefaultDeletionRules() DeletionRules {
	return DeletionRules{
		Exemptions: []string{
			`別忘記`, `別忘了`, `不要忘記`, `不要忘了`, `千萬別忘`,
			`\b(don'?t|do not|never) forget\b`,
		},
		Patterns: []string{
			`忘記我說過的?`, `忘記我的`, `不要記得`, `刪除(這條|那條|這些|那些)?記憶`,
			`清除(這些|那些)?資訊`, `刪掉(這些|那些)?內容`,
			`\bforget (what|everything) i (said|told you)\b`,
			`\b(delete|remove|erase|clear|wipe) (the |my |all |your )?(memory|memories)\b`,
			`刪除`, `刪掉`, `移除`, `忘記`, `忘掉`, `清除`, `去掉`, `別記得`, `取消記憶`,
			`\bdelete\b`, `\bforget\b`,
			// Everyday verbs only count with something memory-like as their object.
			`\b(remove|erase|clear|wipe)\s+(it|that|this|everything|all|what i (said|told you)|(the |my |those |these )?(memory|memories|record|records))\b`,
		},
		AllQualifiers:    []string{`全部`, `所有`, `\ball\b`, `\beverything\b`},
		RecentQualifiers: []string{`最近`, `剛才`, `今天`, `\brecent(ly)?\b`, `\bjust now\b`, `\btoday\b`},
		TargetFillers: []string{
			`^關於`, `^有關`,
			`^(about|regarding|that|of)\b`,
		},
	}
}
