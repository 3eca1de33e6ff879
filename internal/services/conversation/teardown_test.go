package conversation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/domain"
	"cipherchat/internal/services/servicetest"
)

func TestDeselect_WipesResidentSecret(t *testing.T) {
	ctx := context.Background()
	client := servicetest.NewRelay().Client()
	c := New(domain.User{ID: "u1"}, nil, client, client, nil, zerolog.Nop())

	secret := &domain.SessionSecret{}
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	require.NoError(t, client.Subscribe(ctx, "c1"))
	c.open = &openConversation{
		id:         "c1",
		phase:      domain.PhaseReady,
		secret:     secret,
		pending:    map[domain.ClientMessageID]*domain.Message{},
		subscribed: true,
	}

	require.NoError(t, c.Deselect(ctx))
	assert.Equal(t, domain.SessionSecret{}, *secret)
	assert.False(t, client.Subscribed("c1"))
	assert.Nil(t, c.open)
}
