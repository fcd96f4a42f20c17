package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/ecolog-backend/internal/pkg/apperror"
)

func TestSessionManager_IssueAndParse(t *testing.T) {
	m := NewSessionManager("test-secret", time.Hour)

	session, err := m.Issue("  Maria ")
	require.NoError(t, err)
	assert.Equal(t, "Maria", session.User.Name)
	assert.NotEmpty(t, session.Token)

	user, err := m.Parse(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "Maria", user.Name)
}

func TestSessionManager_RejectsBadNames(t *testing.T) {
	m := NewSessionManager("test-secret", time.Hour)

	_, err := m.Issue("")
	assert.True(t, apperror.IsMalformed(err))

	_, err = m.Issue("<script>")
	assert.True(t, apperror.IsMalformed(err))
}

func TestSessionManager_ExpiredToken(t *testing.T) {
	m := NewSessionManager("test-secret", time.Hour)
	issuedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issuedAt }

	session, err := m.Issue("Maria")
	require.NoError(t, err)

	m.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = m.Parse(session.Token)
	assert.True(t, apperror.IsUnauthenticated(err))
}

func TestSessionManager_WrongSecret(t *testing.T) {
	session, err := NewSessionManager("secret-a", time.Hour).Issue("Maria")
	require.NoError(t, err)

	_, err = NewSessionManager("secret-b", time.Hour).Parse(session.Token)
	assert.True(t, apperror.IsUnauthenticated(err))

	_, err = NewSessionManager("secret-a", time.Hour).Parse("garbage")
	assert.True(t, apperror.IsUnauthenticated(err))
}
