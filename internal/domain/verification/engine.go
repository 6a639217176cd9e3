package verification

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXTENSION POINTS
// ══════════════════════════════════════════════════════════════════════════════

// ChainVerifier checks a well-formed transaction hash against the chain.
type ChainVerifier interface {
	VerifyTransaction(hash string, rules task.TransactionRules) Verdict
}

// AnswerGrader compares submitted quiz answers with the configured ones.
type AnswerGrader interface {
	GradeAnswers(answers string, rules task.QuizRules) Verdict
}

type acceptAllChain struct{}

func (acceptAllChain) VerifyTransaction(string, task.TransactionRules) Verdict { return Verified() }

type acceptAllGrader struct{}

func (acceptAllGrader) GradeAnswers(string, task.QuizRules) Verdict { return Verified() }

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine evaluates submissions. It is safe for concurrent use.
type Engine struct {
	chain  ChainVerifier
	grader AnswerGrader
}

// Option configures an Engine.
type Option func(*Engine)

// WithChainVerifier replaces the default verifier, which accepts any
// well-formed hash.
func WithChainVerifier(v ChainVerifier) Option {
	return func(e *Engine) {
		if v != nil {
			e.chain = v
		}
	}
}

// WithAnswerGrader replaces the default grader, which accepts any
// non-empty answers.
func WithAnswerGrader(g AnswerGrader) Option {
	return func(e *Engine) {
		if g != nil {
			e.grader = g
		}
	}
}

// NewEngine creates an engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		chain:  acceptAllChain{},
		grader: acceptAllGrader{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks payload against the rules of taskType.
// It never panics: rule decoding problems and panics in extension points
// become an EngineError verdict.
func (e *Engine) Evaluate(payload submission.Payload, taskType task.Type, rules json.RawMessage) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = EngineError(fmt.Sprintf("Verification failed: %v", r))
		}
	}()

	switch taskType {
	case task.TypeTransactionProof:
		r, err := task.DecodeTransactionRules(rules)
		if err != nil {
			return engineFailure(err)
		}
		return e.verifyTransaction(payload, r)
	case task.TypeLinkSubmission:
		r, err := task.DecodeLinkRules(rules)
		if err != nil {
			return engineFailure(err)
		}
		return verifyLinks(payload, r)
	case task.TypeTextSubmission:
		r, err := task.DecodeTextRules(rules)
		if err != nil {
			return engineFailure(err)
		}
		return verifyText(payload, r)
	case task.TypeQuiz:
		r, err := task.DecodeQuizRules(rules)
		if err != nil {
			return engineFailure(err)
		}
		return e.verifyQuiz(payload, r)
	case task.TypeFileUpload:
		r, err := task.DecodeFileRules(rules)
		if err != nil {
			return engineFailure(err)
		}
		return verifyFiles(payload, r)
	default:
		return RuleFailed("Unsupported task type for auto-verification", map[string]any{
			"check":     "task_type",
			"task_type": string(taskType),
		})
	}
}

func engineFailure(err error) Verdict {
	return EngineError("Verification failed: " + err.Error())
}

func failed(check, reason string) Verdict {
	return RuleFailed(reason, map[string]any{"check": check})
}

// ─────────────────────────────────────────────────────────────────────────────
// transaction_proof
// ─────────────────────────────────────────────────────────────────────────────

const (
	txHashPrefix = "0x"
	txHashLength = 66
)

func (e *Engine) verifyTransaction(p submission.Payload, rules task.TransactionRules) Verdict {
	if p.TransactionHash == nil || *p.TransactionHash == "" {
		return failed("required", "Transaction hash is required")
	}
	hash := *p.TransactionHash
	if !strings.HasPrefix(hash, txHashPrefix) {
		return failed("prefix", "Invalid transaction hash format")
	}
	if len(hash) != txHashLength {
		return failed("length", "Invalid transaction hash length")
	}
	if !isHex(hash[len(txHashPrefix):]) {
		return failed("hex", "Transaction hash must be hexadecimal")
	}
	return e.chain.VerifyTransaction(hash, rules)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// link_submission
// ─────────────────────────────────────────────────────────────────────────────

func verifyLinks(p submission.Payload, rules task.LinkRules) Verdict {
	if len(p.Links) == 0 {
		return failed("required", "At least one link is required")
	}

	if rules.RequiredDomain != "" {
		found := false
		for _, link := range p.Links {
			if strings.Contains(link, rules.RequiredDomain) {
				found = true
				break
			}
		}
		if !found {
			return RuleFailed("Link must be from domain: "+rules.RequiredDomain, map[string]any{
				"check":  "domain",
				"domain": rules.RequiredDomain,
			})
		}
	}

	for _, link := range p.Links {
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			return RuleFailed("Invalid URL format: "+link, map[string]any{
				"check": "scheme",
				"link":  link,
			})
		}
	}
	return Verified()
}

// ─────────────────────────────────────────────────────────────────────────────
// text_submission
// ─────────────────────────────────────────────────────────────────────────────

func verifyText(p submission.Payload, rules task.TextRules) Verdict {
	if p.Text == nil || *p.Text == "" {
		return failed("required", "Text submission is required")
	}
	text := *p.Text
	lower := strings.ToLower(text)

	if utf8.RuneCountInString(text) < rules.MinLength {
		return RuleFailed(fmt.Sprintf("Text must be at least %d characters", rules.MinLength), map[string]any{
			"check":      "min_length",
			"min_length": rules.MinLength,
		})
	}

	var missing []string
	for _, kw := range rules.RequiredKeywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			missing = append(missing, kw)
		}
	}
	if len(missing) > 0 {
		return RuleFailed("Missing required keywords: "+strings.Join(missing, ", "), map[string]any{
			"check":   "required_keywords",
			"missing": missing,
		})
	}

	var found []string
	for _, kw := range rules.ForbiddenKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found = append(found, kw)
		}
	}
	if len(found) > 0 {
		return RuleFailed("Contains forbidden keywords: "+strings.Join(found, ", "), map[string]any{
			"check": "forbidden_keywords",
			"found": found,
		})
	}
	return Verified()
}

// ─────────────────────────────────────────────────────────────────────────────
// quiz
// ─────────────────────────────────────────────────────────────────────────────

// verifyQuiz only checks presence; grading is delegated to the AnswerGrader.
func (e *Engine) verifyQuiz(p submission.Payload, rules task.QuizRules) Verdict {
	if p.Text == nil || *p.Text == "" {
		return failed("required", "Quiz answers are required")
	}
	if len(rules.CorrectAnswers) == 0 {
		return failed("correct_answers", "Quiz has no correct answers configured")
	}
	return e.grader.GradeAnswers(*p.Text, rules)
}

// ─────────────────────────────────────────────────────────────────────────────
// file_upload
// ─────────────────────────────────────────────────────────────────────────────

func verifyFiles(p submission.Payload, rules task.FileRules) Verdict {
	if len(p.Files) == 0 {
		return failed("required", "File upload is required")
	}
	if len(p.Files) < rules.MinFiles {
		return failed("min_files", fmt.Sprintf("At least %d file(s) required", rules.MinFiles))
	}
	if len(p.Files) > rules.MaxFiles {
		return failed("max_files", fmt.Sprintf("Maximum %d file(s) allowed", rules.MaxFiles))
	}

	if len(rules.AllowedTypes) > 0 {
		allowed := make(map[string]struct{}, len(rules.AllowedTypes))
		for _, t := range rules.AllowedTypes {
			allowed[t] = struct{}{}
		}
		for _, f := range p.Files {
			ext := fileExtension(f.Name)
			if _, ok := allowed[ext]; !ok {
				return RuleFailed(
					fmt.Sprintf("File type .%s not allowed. Allowed: %s", ext, strings.Join(rules.AllowedTypes, ", ")),
					map[string]any{"check": "allowed_types", "extension": ext},
				)
			}
		}
	}
	return Verified()
}

// fileExtension returns the lower-cased text after the last dot, or the
// whole lower-cased name when there is no dot.
func fileExtension(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return strings.ToLower(name[i+1:])
	}
	return strings.ToLower(name)
}
