package service

import (
	"io"
	"log/slog"

	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/notify"
	"github.com/runhub-backend/internal/push"
	"github.com/runhub-backend/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func testFeed(st *memstore.Store) (*notify.Feed, *push.Recorder) {
	rec := &push.Recorder{}
	return notify.NewFeed(st, rec, testLogger()), rec
}

func seedUser(st *memstore.Store, email, nickname string, extra map[string]interface{}) {
	data := map[string]interface{}{
		"email":    email,
		"nickname": nickname,
	}
	for k, v := range extra {
		data[k] = v
	}
	st.Seed(domain.UserPath(email), data)
}

func userPrincipal(email string) *domain.Principal {
	return &domain.Principal{UID: "uid-" + email, Email: email, Role: domain.RoleUser}
}

func adminPrincipal(email, role string) *domain.Principal {
	return &domain.Principal{UID: "uid-" + email, Email: email, Role: role}
}
