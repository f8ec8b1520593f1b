// Package storetest is the behaviour every credential.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/credential"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for every subtest
func Run(t *testing.T, newStore func(t *testing.T) credential.Store) {
	t.Helper()

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	t.Run("absent access token", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get access token", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutAccessToken(ctx, credential.AccessToken{Value: "AT1", ExpiresAt: expiresAt}))

		got, ok, err := s.GetAccessToken(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "AT1", got.Value)
		assert.True(t, expiresAt.Equal(got.ExpiresAt), "expires at %s, got %s", expiresAt, got.ExpiresAt)
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutAccessToken(ctx, credential.AccessToken{Value: "AT1", ExpiresAt: expiresAt}))
		require.NoError(t, s.PutAccessToken(ctx, credential.AccessToken{Value: "AT2", ExpiresAt: expiresAt.Add(time.Minute)}))

		got, ok, err := s.GetAccessToken(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "AT2", got.Value)
	})

	t.Run("tickets are keyed by type", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, ok, err := s.GetTicket(ctx, credential.TicketTypeJsAPI)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.PutTicket(ctx, credential.TicketTypeJsAPI, credential.Ticket{Value: "js", ExpiresAt: expiresAt}))
		require.NoError(t, s.PutTicket(ctx, credential.TicketTypeWxCard, credential.Ticket{Value: "card", ExpiresAt: expiresAt}))

		js, ok, err := s.GetTicket(ctx, credential.TicketTypeJsAPI)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "js", js.Value)
		assert.Equal(t, credential.TicketTypeJsAPI, js.Type)

		card, ok, err := s.GetTicket(ctx, credential.TicketTypeWxCard)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "card", card.Value)
		assert.True(t, expiresAt.Equal(card.ExpiresAt))
	})

	t.Run("similar ticket types do not collide", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutTicket(ctx, "a:b", credential.Ticket{Value: "colon", ExpiresAt: expiresAt}))

		for _, other := range []string{"a_b", "a/b", "a%3Ab", "a"} {
			_, ok, err := s.GetTicket(ctx, other)
			require.NoError(t, err, other)
			assert.False(t, ok, "type %q must not see the ticket of a:b", other)
		}

		require.NoError(t, s.PutTicket(ctx, "a_b", credential.Ticket{Value: "underscore", ExpiresAt: expiresAt}))
		require.NoError(t, s.PutTicket(ctx, "a/b", credential.Ticket{Value: "slash", ExpiresAt: expiresAt}))

		want := map[string]string{"a:b": "colon", "a_b": "underscore", "a/b": "slash"}
		for ticketType, value := range want {
			got, ok, err := s.GetTicket(ctx, ticketType)
			require.NoError(t, err)
			require.True(t, ok, ticketType)
			assert.Equal(t, value, got.Value, ticketType)
			assert.Equal(t, ticketType, got.Type)
		}
	})

	t.Run("expired entries are returned as stored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// validity is the manager's decision, a store hands back what it holds
		past := time.Now().Add(-time.Second).UTC().Truncate(time.Second)
		require.NoError(t, s.PutTicket(ctx, "old", credential.Ticket{Value: "stale", ExpiresAt: past}))

		got, ok, err := s.GetTicket(ctx, "old")
		if err != nil || !ok {
			// stores with native key expiry may already have dropped it
			return
		}
		assert.Equal(t, "stale", got.Value)
	})
}
