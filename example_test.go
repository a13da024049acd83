package tgauth_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/storage/memory"
	"github.com/medmarket/tgauth/telegram"
)

const exampleBotToken = "123456:example-bot-token"

func exampleEngine() *tgauth.Engine {
	cfg := tgauth.DefaultConfig()
	cfg.Telegram.BotToken = exampleBotToken
	cfg.JWT.Secrets = map[tgauth.Role][]byte{
		tgauth.RoleCustomer: []byte("example-customer-secret-0123456789ab"),
	}

	// Without WithRedis the rate limits are kept in process.
	engine, err := tgauth.New().
		WithConfig(cfg).
		WithUserProvider(memory.New()).
		Build()
	if err != nil {
		panic(err)
	}
	return engine
}

// ExampleEngine_LoginTelegram signs in a Mini App user and validates the issued token.
func ExampleEngine_LoginTelegram() {
	engine := exampleEngine()
	defer engine.Close()

	fields := map[string]string{
		"user":      `{"id":42,"first_name":"Ann"}`,
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
	}
	fields["hash"] = telegram.Sign(fields, exampleBotToken, telegram.SchemeWebApp)

	ctx := context.Background()
	res, err := engine.LoginTelegram(ctx, fields)
	if err != nil {
		fmt.Println("login:", err)
		return
	}
	who, err := engine.Validate(ctx, res.Tokens.AccessToken)
	if err != nil {
		fmt.Println("validate:", err)
		return
	}
	fmt.Println(who.Role, res.Profile.TelegramID, res.Profile.ProfileCompleted)
	// Output: customer 42 false
}

// ExampleEngine_Validate shows how callers branch on the error taxonomy.
func ExampleEngine_Validate() {
	engine := exampleEngine()
	defer engine.Close()

	_, err := engine.Validate(context.Background(), "not-a-jwt")
	switch {
	case errors.Is(err, tgauth.ErrTokenExpired):
		fmt.Println("expired")
	case errors.Is(err, tgauth.ErrUnauthorized):
		fmt.Println("unauthorized")
	}
	// Output: unauthorized
}

// ExampleEngine_MetricsSnapshot reads the in-process counters.
func ExampleEngine_MetricsSnapshot() {
	engine := exampleEngine()
	defer engine.Close()

	_, _ = engine.Validate(context.Background(), "not-a-jwt")
	snap := engine.MetricsSnapshot()
	fmt.Println(snap.Counters[tgauth.MetricValidateInvalid])
	// Output: 1
}
