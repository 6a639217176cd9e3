package verification

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

func strPtr(s string) *string { return &s }

func TestEngine_TransactionProof(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name   string
		hash   *string
		valid  bool
		check  string
		reason string
	}{
		{name: "missing", hash: nil, check: "required", reason: "Transaction hash is required"},
		{name: "empty", hash: strPtr(""), check: "required", reason: "Transaction hash is required"},
		{name: "no prefix", hash: strPtr(strings.Repeat("a", 66)), check: "prefix", reason: "Invalid transaction hash format"},
		{name: "too short", hash: strPtr("0xabc"), check: "length", reason: "Invalid transaction hash length"},
		{name: "too long", hash: strPtr("0x" + strings.Repeat("a", 65)), check: "length", reason: "Invalid transaction hash length"},
		{name: "not hex", hash: strPtr("0x" + strings.Repeat("g", 64)), check: "hex", reason: "Transaction hash must be hexadecimal"},
		{name: "valid lower", hash: strPtr("0x" + strings.Repeat("a", 64)), valid: true},
		{name: "valid mixed case", hash: strPtr("0x" + strings.Repeat("aF09", 16)), valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(submission.Payload{TransactionHash: tt.hash}, task.TypeTransactionProof, nil)
			assert.Equal(t, tt.valid, v.Valid())
			if !tt.valid {
				assert.Equal(t, OutcomeRuleFailed, v.Outcome)
				assert.Equal(t, tt.check, v.Check())
				assert.Equal(t, tt.reason, v.Reason)
			}
		})
	}
}

type rejectingChain struct{ seen task.TransactionRules }

func (c *rejectingChain) VerifyTransaction(_ string, rules task.TransactionRules) Verdict {
	c.seen = rules
	return RuleFailed("transaction not found on chain", nil)
}

func TestEngine_TransactionProof_ChainVerifier(t *testing.T) {
	chain := &rejectingChain{}
	engine := NewEngine(WithChainVerifier(chain))

	hash := "0x" + strings.Repeat("1", 64)
	v := engine.Evaluate(
		submission.Payload{TransactionHash: &hash},
		task.TypeTransactionProof,
		json.RawMessage(`{"chain_id": 137, "min_value": 0.5}`),
	)

	assert.False(t, v.Valid())
	assert.Equal(t, "transaction not found on chain", v.Reason)
	assert.Equal(t, "137", chain.seen.ChainID)
	assert.Equal(t, 0.5, chain.seen.MinValue)
}

func TestEngine_LinkSubmission(t *testing.T) {
	engine := NewEngine()
	rules := json.RawMessage(`{"required_domain": "github.com"}`)

	tests := []struct {
		name   string
		links  []string
		rules  json.RawMessage
		valid  bool
		reason string
	}{
		{name: "no links", links: nil, reason: "At least one link is required"},
		{name: "bad scheme", links: []string{"ftp://example.com"}, reason: "Invalid URL format: ftp://example.com"},
		{name: "valid without domain rule", links: []string{"https://example.com"}, valid: true},
		{name: "wrong domain", links: []string{"https://gitlab.com/x"}, rules: rules, reason: "Link must be from domain: github.com"},
		{name: "one matching domain", links: []string{"https://gitlab.com/x", "https://github.com/y"}, rules: rules, valid: true},
		{name: "domain ok but bad scheme", links: []string{"github.com/y"}, rules: rules, reason: "Invalid URL format: github.com/y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(submission.Payload{Links: tt.links}, task.TypeLinkSubmission, tt.rules)
			assert.Equal(t, tt.valid, v.Valid())
			if !tt.valid {
				assert.Equal(t, tt.reason, v.Reason)
			}
		})
	}
}

func TestEngine_TextSubmission(t *testing.T) {
	engine := NewEngine()

	t.Run("required keyword missing", func(t *testing.T) {
		v := engine.Evaluate(
			submission.Payload{Text: strPtr("I love bitcoin")},
			task.TypeTextSubmission,
			json.RawMessage(`{"required_keywords": ["ethereum"]}`),
		)
		require.False(t, v.Valid())
		assert.Equal(t, "Missing required keywords: ethereum", v.Reason)
		assert.Equal(t, []string{"ethereum"}, v.Details["missing"])
	})

	t.Run("required keyword present", func(t *testing.T) {
		v := engine.Evaluate(
			submission.Payload{Text: strPtr("I love ethereum")},
			task.TypeTextSubmission,
			json.RawMessage(`{"required_keywords": ["ethereum"]}`),
		)
		assert.True(t, v.Valid())
	})

	t.Run("keywords are case insensitive and all missing are listed", func(t *testing.T) {
		v := engine.Evaluate(
			submission.Payload{Text: strPtr("Solidity is FUN")},
			task.TypeTextSubmission,
			json.RawMessage(`{"required_keywords": ["solidity", "Vyper", "rust"]}`),
		)
		require.False(t, v.Valid())
		assert.Equal(t, []string{"Vyper", "rust"}, v.Details["missing"])
	})

	t.Run("forbidden keywords", func(t *testing.T) {
		v := engine.Evaluate(
			submission.Payload{Text: strPtr("this is a SCAM and spam")},
			task.TypeTextSubmission,
			json.RawMessage(`{"forbidden_keywords": ["scam", "spam", "rug"]}`),
		)
		require.False(t, v.Valid())
		assert.Equal(t, "Contains forbidden keywords: scam, spam", v.Reason)
	})

	t.Run("min length counts runes", func(t *testing.T) {
		rules := json.RawMessage(`{"min_length": 5}`)
		assert.False(t, engine.Evaluate(submission.Payload{Text: strPtr("тест")}, task.TypeTextSubmission, rules).Valid())
		assert.True(t, engine.Evaluate(submission.Payload{Text: strPtr("тесты")}, task.TypeTextSubmission, rules).Valid())
	})

	t.Run("empty text", func(t *testing.T) {
		v := engine.Evaluate(submission.Payload{Text: strPtr("")}, task.TypeTextSubmission, nil)
		assert.Equal(t, "Text submission is required", v.Reason)
	})
}

func TestEngine_Quiz(t *testing.T) {
	engine := NewEngine()

	v := engine.Evaluate(submission.Payload{}, task.TypeQuiz, json.RawMessage(`{"correct_answers": {"q1": "a"}}`))
	assert.Equal(t, "Quiz answers are required", v.Reason)

	v = engine.Evaluate(submission.Payload{Text: strPtr(`{"q1":"b"}`)}, task.TypeQuiz, nil)
	assert.Equal(t, "Quiz has no correct answers configured", v.Reason)

	v = engine.Evaluate(submission.Payload{Text: strPtr(`{"q1":"b"}`)}, task.TypeQuiz, json.RawMessage(`{"correct_answers": ["a", "c"]}`))
	assert.True(t, v.Valid())
}

func TestEngine_FileUpload(t *testing.T) {
	engine := NewEngine()
	files := func(names ...string) []submission.FileDescriptor {
		out := make([]submission.FileDescriptor, 0, len(names))
		for _, n := range names {
			out = append(out, submission.FileDescriptor{Name: n, URL: "https://cdn.example.com/" + n, Size: 10})
		}
		return out
	}

	tests := []struct {
		name   string
		files  []submission.FileDescriptor
		rules  json.RawMessage
		valid  bool
		reason string
	}{
		{name: "no files", reason: "File upload is required"},
		{name: "default limits", files: files("a.png"), valid: true},
		{name: "below min", files: files("a.png"), rules: json.RawMessage(`{"min_files": 2}`), reason: "At least 2 file(s) required"},
		{name: "above max", files: files("a.png", "b.png"), rules: json.RawMessage(`{"max_files": 1}`), reason: "Maximum 1 file(s) allowed"},
		{name: "allowed type upper case", files: files("Report.PDF"), rules: json.RawMessage(`{"allowed_types": ["pdf"]}`), valid: true},
		{name: "disallowed type", files: files("a.pdf", "b.exe"), rules: json.RawMessage(`{"allowed_types": ["pdf", "png"]}`), reason: "File type .exe not allowed. Allowed: pdf, png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.Evaluate(submission.Payload{Files: tt.files}, task.TypeFileUpload, tt.rules)
			assert.Equal(t, tt.valid, v.Valid())
			if !tt.valid {
				assert.Equal(t, tt.reason, v.Reason)
			}
		})
	}
}

func TestEngine_UnsupportedType(t *testing.T) {
	v := NewEngine().Evaluate(submission.Payload{}, task.Type("essay"), nil)
	assert.Equal(t, OutcomeRuleFailed, v.Outcome)
	assert.Equal(t, "Unsupported task type for auto-verification", v.Reason)
}

func TestEngine_MalformedRulesAreEngineErrors(t *testing.T) {
	v := NewEngine().Evaluate(
		submission.Payload{Text: strPtr("hello")},
		task.TypeTextSubmission,
		json.RawMessage(`{"min_length": "ten"}`),
	)
	assert.Equal(t, OutcomeEngineError, v.Outcome)
	assert.True(t, strings.HasPrefix(v.Reason, "Verification failed: "))
}

type panickingGrader struct{}

func (panickingGrader) GradeAnswers(string, task.QuizRules) Verdict { panic("boom") }

func TestEngine_RecoversFromPanics(t *testing.T) {
	engine := NewEngine(WithAnswerGrader(panickingGrader{}))

	var v Verdict
	assert.NotPanics(t, func() {
		v = engine.Evaluate(submission.Payload{Text: strPtr("a")}, task.TypeQuiz, json.RawMessage(`{"correct_answers": {"q": "a"}}`))
	})
	assert.Equal(t, OutcomeEngineError, v.Outcome)
	assert.Equal(t, "Verification failed: boom", v.Reason)
}
