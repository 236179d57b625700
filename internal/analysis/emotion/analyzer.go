package emotion

import (
	"strings"
)

// Label 表示回复所对应的情绪类别。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Sad      Label = "sad"
	Angry    Label = "angry"
	Confused Label = "confused"
	Excited  Label = "excited"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// seeded 是预置头像的情绪类别，其余类别需要生成新头像。
var seeded = map[Label]bool{
	Neutral:  true,
	Happy:    true,
	Sad:      true,
	Angry:    true,
	Confused: true,
}

// Decision 给出情绪识别结果。
type Decision struct {
	Emotion Label
	Score   int
}

// Seeded reports whether a stock avatar exists for the emotion.
func (d Decision) Seeded() bool {
	return seeded[d.Emotion]
}

// AvatarName is the stock avatar file name for seeded emotions.
func (d Decision) AvatarName() string {
	return string(d.Emotion) + "_01.png"
}

var keywordBuckets = map[Label][]string{
	Happy: {
		"开心", "高兴", "喜悦", "快乐", "太好了", "太棒了", "真棒", "哈哈", "lol", "amazing",
		"awesome", "great", "thanks", "thank you", "love", "喜欢", "满意", "好耶", "笑死",
	},
	Sad: {
		"难过", "伤心", "失落", "沮丧", "悲伤", "哭", "痛苦", "寂寞", "孤单", "失望",
		"unhappy", "sad", "cry", "depressed", "tragedy", "upset", "hurt", "sorrow", "心碎", "低落", "委屈",
	},
	Angry: {
		"生气", "愤怒", "火大", "气死", "烦死", "受够了", "怒火", "气愤", "抓狂",
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "outrage", "气炸",
	},
	Confused: {
		"困惑", "不懂", "不明白", "为什么", "怎么回事", "搞不清", "迷茫",
		"confused", "confusing", "don't understand", "what do you mean", "huh", "puzzled", "lost",
	},
	Excited: {
		"期待", "激动", "太酷了", "震撼", "惊喜", "哇塞", "can't wait", "superb",
		"unbelievable", "hype", "热血", "兴奋", "给力", "wow", "惊艳",
	},
	Tender: {
		"温柔", "轻声", "柔和", "soft", "gentle", "calm", "平静", "放松", "轻柔", "温和", "softly",
	},
	Comfort: {
		"别担心", "没事", "我懂", "支持", "陪着", "抱抱", "不要怕", "安心", "安慰", "陪伴",
		"for you", "calm down", "breathe", "take it easy", "i'm here", "慢慢来",
	},
	Magnetic: {
		"认真", "严肃", "重要", "责任", "庄重", "严谨", "focus", "critical", "serious", "务必",
	},
}

var punctuationBoost = map[Label]int{
	Happy:    2,
	Excited:  3,
	Confused: 2,
}

// Analyze 根据用户话语推断回复应使用的情绪类别。
func Analyze(utterance string) Decision {
	return scoreText(utterance)
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, strings.ToLower(word)) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 0 {
		scores[Excited] += exclamations * punctuationBoost[Excited]
		if exclamations == 1 {
			scores[Happy] += punctuationBoost[Happy]
		}
	}
	if strings.Contains(text, "?") || strings.Contains(text, "？") {
		scores[Confused] += punctuationBoost[Confused]
	}

	bestLabel := Neutral
	bestScore := 0
	for label, s := range scores {
		// 同分时按名称排序，保证结果稳定
		if s > bestScore || (s == bestScore && s > 0 && label < bestLabel) {
			bestScore = s
			bestLabel = label
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral}
	}
	return Decision{Emotion: bestLabel, Score: bestScore}
}

var replies = map[Label]string{
	Neutral:  "I hear you. Tell me more.",
	Happy:    "That's **wonderful** to hear!",
	Sad:      "I'm sorry you're going through that. I'm here for you.",
	Angry:    "That sounds really frustrating.",
	Confused: "Let me try to explain that another way.",
	Excited:  "Wow, that's exciting!",
	Tender:   "Let's take it slowly and gently.",
	Comfort:  "It's going to be okay. Take a deep breath.",
	Magnetic: "This matters. Let's focus on it together.",
}

// Reply 返回与情绪匹配的模拟回复文本。
func Reply(d Decision) string {
	if text, ok := replies[d.Emotion]; ok {
		return text
	}
	return replies[Neutral]
}
