// minttoken mints a signed development token for exercising the protected
// API. Configuration comes from the environment; the only required input is
// the signing secret.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const tokenTTL = 7 * 24 * time.Hour

func main() {
	viper.AutomaticEnv()
	viper.BindEnv("jwt.secret_key", "JWT_SECRET")
	viper.BindEnv("jwt.audience", "JWT_AUD")
	viper.BindEnv("user.id", "USER_ID")
	viper.BindEnv("user.email", "USER_EMAIL")

	viper.SetDefault("jwt.audience", "ubas")
	viper.SetDefault("user.email", "demo@example.com")

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		log.Fatal("JWT_SECRET is required: refusing to mint an unsigned token")
	}

	userID := viper.GetString("user.id")
	if userID == "" {
		userID = uuid.New().String()
	}

	token, err := mint(secret, viper.GetString("jwt.audience"), userID, viper.GetString("user.email"))
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}

	fmt.Println(token)
}

func mint(secret, audience, userID, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	})
	return token.SignedString([]byte(secret))
}
