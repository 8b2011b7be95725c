// Package suggest proposes follow-up questions from the last exchange of a
// conversation using a fixed keyword table.
package suggest

import "strings"

// Max is the largest number of suggestions returned.
const Max = 6

// minContextual is the count below which keyword follow-ups and defaults
// are added.
const minContextual = 4

var defaults = []string{
	"Bảo hiểm xe máy là gì?",
	"Các loại bảo hiểm ô tô",
	"Quyền lợi khi tham gia bảo hiểm",
	"Cách mua bảo hiểm online",
	"Thủ tục bồi thường bảo hiểm",
	"Bảo hiểm bắt buộc và tự nguyện",
}

type topic struct {
	keyword     string
	suggestions []string
}

// topics is matched in order against the question and answer.
var topics = []topic{
	{"xe máy", []string{
		"Bảo hiểm xe máy bắt buộc",
		"Mức phí bảo hiểm xe máy",
		"Quyền lợi bảo hiểm xe máy",
		"Thủ tục mua bảo hiểm xe máy",
	}},
	{"ô tô", []string{
		"Bảo hiểm ô tô tự nguyện",
		"Bảo hiểm vật chất xe",
		"Bảo hiểm TNDS ô tô",
		"Mức phí bảo hiểm ô tô",
	}},
	{"bảo hiểm", []string{
		"Các loại bảo hiểm",
		"Quyền lợi bảo hiểm",
		"Thủ tục bồi thường",
		"Cách mua bảo hiểm",
	}},
	{"bồi thường", []string{
		"Thủ tục bồi thường",
		"Hồ sơ bồi thường",
		"Thời gian bồi thường",
		"Mức bồi thường",
	}},
	{"mua", []string{
		"Cách mua bảo hiểm online",
		"Mua bảo hiểm ở đâu",
		"Thủ tục mua bảo hiểm",
		"Giấy tờ cần thiết",
	}},
}

// answerKeywords are searched in the answer alone. Only the first two found
// contribute follow-ups, and only those with an entry in followUps.
var answerKeywords = []string{
	"bảo hiểm", "xe máy", "ô tô", "bồi thường", "quyền lợi",
	"thủ tục", "mua", "phí", "giấy tờ", "hồ sơ", "thời gian",
}

var followUps = map[string][]string{
	"bảo hiểm":   {"Các loại bảo hiểm khác", "Quyền lợi bảo hiểm"},
	"xe máy":     {"Mức phí bảo hiểm xe máy", "Thủ tục mua bảo hiểm xe máy"},
	"ô tô":       {"Bảo hiểm ô tô tự nguyện", "Bảo hiểm vật chất xe"},
	"bồi thường": {"Hồ sơ bồi thường", "Thời gian bồi thường"},
	"mua":        {"Cách mua bảo hiểm online", "Giấy tờ cần thiết"},
}

// Defaults returns the suggestions shown before any exchange.
func Defaults() []string {
	return append([]string(nil), defaults...)
}

// For returns up to Max follow-up suggestions for the last question and
// answer. With both empty it returns Defaults.
func For(question, answer string) []string {
	if question == "" && answer == "" {
		return Defaults()
	}

	q := strings.ToLower(question)
	a := strings.ToLower(answer)
	combined := q + " " + a

	s := newOrderedSet()
	for _, t := range topics {
		if strings.Contains(combined, t.keyword) {
			s.add(t.suggestions...)
		}
	}

	if s.len() < minContextual {
		found := 0
		for _, kw := range answerKeywords {
			if found == 2 {
				break
			}
			if !strings.Contains(a, kw) {
				continue
			}
			found++
			s.add(followUps[kw]...)
		}
	}

	if n := s.len(); n < minContextual {
		s.add(defaults[:Max-n]...)
	}

	out := s.items
	if len(out) > Max {
		out = out[:Max]
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(items ...string) {
	for _, item := range items {
		if _, ok := s.seen[item]; ok {
			continue
		}
		s.seen[item] = struct{}{}
		s.items = append(s.items, item)
	}
}

func (s *orderedSet) len() int {
	return len(s.items)
}
