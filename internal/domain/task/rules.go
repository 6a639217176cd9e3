package task

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPED RULES
// One struct per task type. Absent keys take the documented defaults.
// ══════════════════════════════════════════════════════════════════════════════

// TransactionRules configures transaction_proof tasks.
// ChainID and MinValue are carried for on-chain verifiers and are not
// evaluated by the built-in engine.
type TransactionRules struct {
	ChainID  string
	MinValue float64
}

// LinkRules configures link_submission tasks.
type LinkRules struct {
	RequiredDomain string
}

// TextRules configures text_submission tasks.
type TextRules struct {
	MinLength         int
	RequiredKeywords  []string
	ForbiddenKeywords []string
}

// QuizRules configures quiz tasks. CorrectAnswers maps a question key to
// its expected answer; a JSON array is keyed by index.
type QuizRules struct {
	CorrectAnswers map[string]string
}

// FileRules configures file_upload tasks.
type FileRules struct {
	MinFiles     int
	MaxFiles     int
	AllowedTypes []string
}

// Default file limits.
const (
	DefaultMinFiles = 1
	DefaultMaxFiles = 10
)

// ══════════════════════════════════════════════════════════════════════════════
// DECODING
// ══════════════════════════════════════════════════════════════════════════════

// ValidateRules checks that raw decodes into the rule struct of taskType.
func ValidateRules(taskType Type, raw json.RawMessage) error {
	var err error
	switch taskType {
	case TypeTransactionProof:
		_, err = DecodeTransactionRules(raw)
	case TypeLinkSubmission:
		_, err = DecodeLinkRules(raw)
	case TypeTextSubmission:
		_, err = DecodeTextRules(raw)
	case TypeQuiz:
		_, err = DecodeQuizRules(raw)
	case TypeFileUpload:
		var r FileRules
		r, err = DecodeFileRules(raw)
		if err == nil && r.MinFiles > r.MaxFiles {
			err = rulesError("min_files must not exceed max_files")
		}
	default:
		return shared.ErrInvalidTaskType
	}
	return err
}

// DecodeTransactionRules decodes transaction_proof rules.
func DecodeTransactionRules(raw json.RawMessage) (TransactionRules, error) {
	var r TransactionRules
	doc, err := parseRules(raw)
	if err != nil || !doc.Exists() {
		return r, err
	}
	if v := doc.Get("chain_id"); v.Exists() {
		switch v.Type {
		case gjson.String, gjson.Number:
			r.ChainID = v.String()
		default:
			return r, rulesError("chain_id must be a string or number")
		}
	}
	if v := doc.Get("min_value"); v.Exists() {
		if v.Type != gjson.Number {
			return r, rulesError("min_value must be a number")
		}
		r.MinValue = v.Float()
	}
	return r, nil
}

// DecodeLinkRules decodes link_submission rules.
func DecodeLinkRules(raw json.RawMessage) (LinkRules, error) {
	var r LinkRules
	doc, err := parseRules(raw)
	if err != nil || !doc.Exists() {
		return r, err
	}
	r.RequiredDomain, err = stringField(doc, "required_domain")
	return r, err
}

// DecodeTextRules decodes text_submission rules.
func DecodeTextRules(raw json.RawMessage) (TextRules, error) {
	var r TextRules
	doc, err := parseRules(raw)
	if err != nil || !doc.Exists() {
		return r, err
	}
	if r.MinLength, err = intField(doc, "min_length", 0); err != nil {
		return r, err
	}
	if r.RequiredKeywords, err = stringListField(doc, "required_keywords"); err != nil {
		return r, err
	}
	if r.ForbiddenKeywords, err = stringListField(doc, "forbidden_keywords"); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeQuizRules decodes quiz rules.
func DecodeQuizRules(raw json.RawMessage) (QuizRules, error) {
	r := QuizRules{CorrectAnswers: map[string]string{}}
	doc, err := parseRules(raw)
	if err != nil || !doc.Exists() {
		return r, err
	}
	v := doc.Get("correct_answers")
	if !v.Exists() || v.Type == gjson.Null {
		return r, nil
	}
	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			r.CorrectAnswers[key.String()] = value.String()
			return true
		})
	case v.IsArray():
		for i, item := range v.Array() {
			r.CorrectAnswers[fmt.Sprintf("%d", i)] = item.String()
		}
	default:
		return r, rulesError("correct_answers must be an object or array")
	}
	return r, nil
}

// DecodeFileRules decodes file_upload rules.
func DecodeFileRules(raw json.RawMessage) (FileRules, error) {
	r := FileRules{MinFiles: DefaultMinFiles, MaxFiles: DefaultMaxFiles}
	doc, err := parseRules(raw)
	if err != nil || !doc.Exists() {
		return r, err
	}
	if r.MinFiles, err = intField(doc, "min_files", DefaultMinFiles); err != nil {
		return r, err
	}
	if r.MaxFiles, err = intField(doc, "max_files", DefaultMaxFiles); err != nil {
		return r, err
	}
	if r.AllowedTypes, err = stringListField(doc, "allowed_types"); err != nil {
		return r, err
	}
	return r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// parseRules returns a non-existing result for an empty or null blob.
func parseRules(raw json.RawMessage) (gjson.Result, error) {
	if len(raw) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, rulesError("rules are not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.Null {
		return gjson.Result{}, nil
	}
	if !doc.IsObject() {
		return gjson.Result{}, rulesError("rules must be a JSON object")
	}
	return doc, nil
}

func stringField(doc gjson.Result, key string) (string, error) {
	v := doc.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return "", nil
	}
	if v.Type != gjson.String {
		return "", rulesError(key + " must be a string")
	}
	return v.String(), nil
}

func intField(doc gjson.Result, key string, def int) (int, error) {
	v := doc.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return def, nil
	}
	if v.Type != gjson.Number || v.Float() != float64(v.Int()) {
		return def, rulesError(key + " must be an integer")
	}
	if v.Int() < 0 {
		return def, rulesError(key + " must not be negative")
	}
	return int(v.Int()), nil
}

func stringListField(doc gjson.Result, key string) ([]string, error) {
	v := doc.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, rulesError(key + " must be an array of strings")
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.String {
			return nil, rulesError(key + " must be an array of strings")
		}
		out = append(out, item.String())
	}
	return out, nil
}

func rulesError(msg string) error {
	return shared.WrapError("task", "DecodeRules", shared.ErrValidation, msg, shared.ErrInvalidRules)
}
