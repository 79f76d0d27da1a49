package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/domain"
	dErrors "fineledger/pkg/domain-errors"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("test-signing-key")
	actor := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleOfficer}

	token, err := svc.Issue(actor, time.Hour)
	require.NoError(t, err)

	got, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, got.ID)
	assert.Equal(t, domain.RoleOfficer, got.Role)
}

func TestValidateRejections(t *testing.T) {
	svc := NewService("test-signing-key")
	actor := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleDriver}

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.Issue(actor, -time.Minute)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		other := NewService("some-other-key")
		token, err := other.Issue(actor, time.Hour)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.Validate("definitely.not.a.jwt")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
