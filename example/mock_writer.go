package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-faker/faker/v4"

	"github.com/jpalmerr/livestore/subscriber"
)

var statuses = []string{"Active", "Inactive", "Suspended"}

// RunMockWriter makes a random write against the server every 2-6 seconds
// until ctx is cancelled, so subscribers have something to watch.
func RunMockWriter(ctx context.Context, baseURL string) {
	f := subscriber.NewFetcher(baseURL, 5*time.Second)
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(2+rand.Intn(5)) * time.Second):
		}

		snap, err := f.Snapshot(ctx)
		if err != nil {
			slog.Warn("mock writer snapshot failed", "error", err)
			continue
		}
		ids := userIDs(snap["users"])

		var method, path, body string
		switch {
		case len(ids) < 3 || rand.Intn(3) == 0:
			method, path = http.MethodPost, "/users"
			body = fmt.Sprintf(`{"name":%q,"email":%q,"role":"Editor"}`, faker.Name(), faker.Email())
		case len(ids) > 8 && rand.Intn(2) == 0:
			method, path = http.MethodDelete, "/bulk/users"
			body = fmt.Sprintf(`{"ids":[%d,%d]}`, ids[len(ids)-1], ids[len(ids)-2])
		default:
			id := ids[rand.Intn(len(ids))]
			method, path = http.MethodPatch, fmt.Sprintf("/users/%d", id)
			body = fmt.Sprintf(`{"status":%q}`, statuses[rand.Intn(len(statuses))])
		}

		resp := f.Fetch(ctx, method, path, strings.NewReader(body))
		if resp.Error != nil {
			slog.Warn("mock write failed", "method", method, "path", path, "error", resp.Error)
			continue
		}
		slog.Info("mock write", "method", method, "path", path, "status", resp.StatusCode)
	}
}

func userIDs(users []json.RawMessage) []int64 {
	ids := make([]int64, 0, len(users))
	for _, raw := range users {
		var u struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &u); err == nil {
			ids = append(ids, u.ID)
		}
	}
	return ids
}
