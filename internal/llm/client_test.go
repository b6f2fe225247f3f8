package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func analysisBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(Completion{
		Schema: SchemaAnalysis,
		Analysis: &AnalysisPayload{
			Findings: []FindingPayload{{
				Category: "deficit_impact", Statement: "adds 10B", Confidence: 0.8,
			}},
			Confidence: 0.8,
		},
		TokensUsed: 120,
	})
	require.NoError(t, err)
	return body
}

func analysisRequest() Request {
	return Request{
		Role:           "analyst",
		Specialization: "fiscal",
		Instructions:   "analyze",
		Document:       "a bill",
		Schema:         SchemaAnalysis,
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(analysisBody(t))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{MaxRetries: 5}, zaptest.NewLogger(t))
	comp, err := c.Complete(context.Background(), analysisRequest())
	require.NoError(t, err)
	assert.Equal(t, 120, comp.TokensUsed)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestCompleteRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{MaxRetries: 1}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), analysisRequest())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsSchema(err))
}

func TestCompleteSchemaErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"schema":"analysis"}`)) // payload missing
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{MaxRetries: 5}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), analysisRequest())
	require.Error(t, err)
	assert.True(t, IsSchema(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "schema errors are permanent")
}

func TestCompleteInvalidJSONIsSchemaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), analysisRequest())
	require.Error(t, err)
	assert.True(t, IsSchema(err))

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "{not json", se.Raw)
}

func TestCompleteSendsAuthAndTracksSchema(t *testing.T) {
	var got Request
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(analysisBody(t))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, Options{APIKey: "sk-test"}, zaptest.NewLogger(t))
	_, err := c.Complete(context.Background(), analysisRequest())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, SchemaAnalysis, got.Schema)
	assert.Equal(t, "fiscal", got.Specialization)
}

func TestCompleteHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.Write(analysisBody(t))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL, Options{MaxRetries: 3}, zaptest.NewLogger(t))
	_, err := c.Complete(ctx, analysisRequest())
	require.Error(t, err)
}

func TestValidateRejectsMismatchedSchema(t *testing.T) {
	comp := Completion{Schema: SchemaVotes, Votes: []VotePayload{{ProposalID: "p1", Confidence: 0.5}}}
	assert.Error(t, comp.Validate(SchemaAnalysis))
	assert.NoError(t, comp.Validate(SchemaVotes))
}

func TestValidateBoundsConfidence(t *testing.T) {
	comp := Completion{
		Schema:   SchemaAnalysis,
		Analysis: &AnalysisPayload{Confidence: 1.2},
	}
	assert.Error(t, comp.Validate(SchemaAnalysis))
}
