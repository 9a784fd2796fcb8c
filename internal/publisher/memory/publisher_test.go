package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRetainsMessages(t *testing.T) {
	t.Parallel()
	p := New()

	id1, err := p.Publish(context.Background(), "analysis-complete", map[string]string{"analysis_id": "a"})
	require.NoError(t, err)
	id2, err := p.Publish(context.Background(), "analysis-complete", map[string]string{"analysis_id": "b"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	messages := p.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "analysis-complete", messages[0].Topic)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(messages[1].Data, &decoded))
	require.Equal(t, "b", decoded["analysis_id"])
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()
	p := New()
	_, err := p.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Empty(t, p.Messages())
}
