package main

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestMint(t *testing.T) {
	t.Run("mints a verifiable token with the expected claims", func(t *testing.T) {
		tokenString, err := mint("test-secret", "ubas", "user-123", "demo@example.com")
		assert.NoError(t, err)
		assert.NotEmpty(t, tokenString)

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		}, jwt.WithAudience("ubas"))
		assert.NoError(t, err)
		assert.True(t, token.Valid)

		claims := token.Claims.(jwt.MapClaims)
		assert.Equal(t, "user-123", claims["sub"])
		assert.Equal(t, "demo@example.com", claims["email"])

		iat, err := claims.GetIssuedAt()
		assert.NoError(t, err)
		assert.WithinDuration(t, time.Now(), iat.Time, time.Minute)

		exp, err := claims.GetExpirationTime()
		assert.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(tokenTTL), exp.Time, time.Minute)
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		tokenString, err := mint("test-secret", "ubas", "user-123", "demo@example.com")
		assert.NoError(t, err)

		_, err = jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte("other-secret"), nil
		})
		assert.Error(t, err)
	})

	t.Run("rejects the wrong audience", func(t *testing.T) {
		tokenString, err := mint("test-secret", "ubas", "user-123", "demo@example.com")
		assert.NoError(t, err)

		_, err = jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		}, jwt.WithAudience("other"))
		assert.Error(t, err)
	})
}

// Re-executes the test binary so the log.Fatal path can be observed without
// killing the test process.
func TestMissingSecretExitsNonZero(t *testing.T) {
	if os.Getenv("MINTTOKEN_RUN_MAIN") == "1" {
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMissingSecretExitsNonZero")
	env := []string{"MINTTOKEN_RUN_MAIN=1"}
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "JWT_SECRET=") {
			env = append(env, e)
		}
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitErr, ok := err.(*exec.ExitError)
	assert.True(t, ok, "expected a non-zero exit, got %v", err)
	if ok {
		assert.False(t, exitErr.Success())
	}
	assert.Empty(t, stdout.String(), "no token may be printed without a secret")
	assert.Contains(t, stderr.String(), "JWT_SECRET is required")
}
