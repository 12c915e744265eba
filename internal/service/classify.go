package service

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/aasha-care/aasha-relay/internal/model"
)

var (
	ackKeywords      = []string{"yes", "taken", "took", "done", "हां", "ली", "ले लिया", "खा लिया"}
	ackExact         = []string{"y", "ok"}
	positiveKeywords = []string{"good", "great", "अच्छा", "बढ़िया"}
	negativeKeywords = []string{"bad", "not", "बुरा", "नहीं"}
	confusedKeywords = []string{"?", "help", "मदद"}
)

type Classification struct {
	// Acknowledged is set when the text reads as "I took my medicine".
	Acknowledged bool
	Sentiment    model.Sentiment
}

func Classify(text string) Classification {
	folded := cases.Fold().String(text)
	trimmed := strings.TrimSpace(folded)

	c := Classification{Sentiment: model.SentimentNeutral}
	c.Acknowledged = containsAny(folded, ackKeywords) || equalsAny(trimmed, ackExact)

	switch {
	case containsAny(folded, positiveKeywords):
		c.Sentiment = model.SentimentPositive
	case containsAny(folded, negativeKeywords):
		c.Sentiment = model.SentimentNegative
	case containsAny(folded, confusedKeywords):
		c.Sentiment = model.SentimentConfused
	}
	return c
}

// AutoReply returns the canned reply for c, or "" when none is due.
func AutoReply(c Classification, firstName, language string) string {
	hindi := language == "Hindi"
	switch {
	case c.Acknowledged && hindi:
		return "बहुत बढ़िया " + firstName + "! आपकी दवा लेने के लिए धन्यवाद। 😊"
	case c.Acknowledged:
		return "Great job " + firstName + "! Thank you for taking your medicine. 😊"
	case c.Sentiment == model.SentimentConfused && hindi:
		return "मैं यहां मदद के लिए हूं " + firstName + "। आप मुझसे कुछ भी पूछ सकते हैं।"
	case c.Sentiment == model.SentimentConfused:
		return "I'm here to help " + firstName + ". Feel free to ask me anything."
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func equalsAny(s string, opts []string) bool {
	for _, o := range opts {
		if s == o {
			return true
		}
	}
	return false
}
