package task

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

func TestDecodeFileRules_Defaults(t *testing.T) {
	r, err := DecodeFileRules(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinFiles, r.MinFiles)
	assert.Equal(t, DefaultMaxFiles, r.MaxFiles)
	assert.Empty(t, r.AllowedTypes)

	r, err = DecodeFileRules(json.RawMessage(`{"max_files": 3}`))
	require.NoError(t, err)
	assert.Equal(t, 1, r.MinFiles)
	assert.Equal(t, 3, r.MaxFiles)
}

func TestDecodeQuizRules_ObjectAndArray(t *testing.T) {
	r, err := DecodeQuizRules(json.RawMessage(`{"correct_answers": {"q1": "a", "q2": "b"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "a", "q2": "b"}, r.CorrectAnswers)

	r, err = DecodeQuizRules(json.RawMessage(`{"correct_answers": ["a", "b"]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0": "a", "1": "b"}, r.CorrectAnswers)

	_, err = DecodeQuizRules(json.RawMessage(`{"correct_answers": 42}`))
	assert.ErrorIs(t, err, shared.ErrInvalidRules)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		raw     string
		wantErr bool
	}{
		{name: "empty blob", typ: TypeTextSubmission, raw: ``},
		{name: "null blob", typ: TypeLinkSubmission, raw: `null`},
		{name: "not json", typ: TypeTextSubmission, raw: `{min_length`, wantErr: true},
		{name: "array root", typ: TypeTextSubmission, raw: `[1,2]`, wantErr: true},
		{name: "wrong keyword type", typ: TypeTextSubmission, raw: `{"required_keywords": "eth"}`, wantErr: true},
		{name: "negative min length", typ: TypeTextSubmission, raw: `{"min_length": -1}`, wantErr: true},
		{name: "fractional min files", typ: TypeFileUpload, raw: `{"min_files": 1.5}`, wantErr: true},
		{name: "min above max", typ: TypeFileUpload, raw: `{"min_files": 5, "max_files": 2}`, wantErr: true},
		{name: "domain must be string", typ: TypeLinkSubmission, raw: `{"required_domain": 1}`, wantErr: true},
		{name: "chain id number", typ: TypeTransactionProof, raw: `{"chain_id": 1, "min_value": 0.1}`},
		{name: "unknown keys ignored", typ: TypeQuiz, raw: `{"shuffle": true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.typ, json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, shared.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTask_Validation(t *testing.T) {
	base := NewTaskParams{
		CourseID: uuid.New(),
		Title:    "Deploy a contract",
		Type:     TypeTransactionProof,
		XPReward: 100,
		OwnerID:  uuid.New(),
	}

	task, err := NewTask(base)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Nil(t, task.Rules)

	bad := base
	bad.XPReward = -1
	_, err = NewTask(bad)
	assert.True(t, shared.IsValidation(err))

	bad = base
	bad.Type = "essay"
	_, err = NewTask(bad)
	assert.ErrorIs(t, err, shared.ErrInvalidTaskType)

	bad = base
	bad.Title = "   "
	_, err = NewTask(bad)
	assert.True(t, shared.IsValidation(err))
}

func TestTask_ApplyKeepsTaskOnError(t *testing.T) {
	task, err := NewTask(NewTaskParams{
		CourseID: uuid.New(),
		Title:    "Write an essay",
		Type:     TypeTextSubmission,
		XPReward: 50,
		OwnerID:  uuid.New(),
	})
	require.NoError(t, err)

	badRules := json.RawMessage(`{"min_length": "long"}`)
	title := "New title"
	err = task.Apply(Patch{Title: &title, Rules: &badRules})
	assert.Error(t, err)
	assert.Equal(t, "Write an essay", task.Title)

	reward := 75
	require.NoError(t, task.Apply(Patch{Title: &title, XPReward: &reward}))
	assert.Equal(t, "New title", task.Title)
	assert.Equal(t, 75, task.XPReward)
}

func TestTask_CanBeModifiedBy(t *testing.T) {
	owner := uuid.New()
	task := &Task{OwnerID: owner}

	assert.True(t, task.CanBeModifiedBy(shared.Actor{UserID: owner, Role: shared.RoleInstructor}))
	assert.True(t, task.CanBeModifiedBy(shared.Actor{UserID: uuid.New(), Role: shared.RoleAdmin}))
	assert.False(t, task.CanBeModifiedBy(shared.Actor{UserID: uuid.New(), Role: shared.RoleInstructor}))
	assert.False(t, task.CanBeModifiedBy(shared.Actor{UserID: owner, Role: shared.RoleLearner}))
}
