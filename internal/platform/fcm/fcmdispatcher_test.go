package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-inspection-alerts/internal/platform/fcm"
	"github.com/tinywideclouds/go-inspection-alerts/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func allSuccess(n int) *messaging.BatchResponse {
	responses := make([]*messaging.SendResponse, n)
	for i := range responses {
		responses[i] = &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)}
	}
	return &messaging.BatchResponse{SuccessCount: n, Responses: responses}
}

func makeTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("token-%04d", i)
	}
	return tokens
}

func TestDispatch_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	msg := dispatch.Message{
		Title:  "Test",
		Body:   "Body",
		Data:   map[string]string{"message_id": "1"},
		Notify: true,
	}

	t.Run("Happy Path - Single Batch", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(allSuccess(2), nil)

		report, err := dispatcher.Dispatch(ctx, tokens, msg)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Batches)
		assert.Equal(t, 2, report.SuccessCount)
		assert.Zero(t, report.FailureCount)
		assert.Empty(t, report.InvalidTokens)
		mockClient.AssertExpectations(t)
	})

	t.Run("Empty Token List Skips Transport", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		report, err := dispatcher.Dispatch(ctx, nil, msg)

		require.NoError(t, err)
		assert.Zero(t, report.Batches)
		mockClient.AssertNotCalled(t, "SendEachForMulticast")
	})

	t.Run("Transport Failure (Retryable)", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1"}

		// Whole batch fails (e.g. DNS error)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		report, err := dispatcher.Dispatch(ctx, tokens, msg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
		assert.Equal(t, 1, report.FailureCount)
	})

	// Note: We rely on the Integration Test to verify the specific parsing of
	// IsRegistrationTokenNotRegistered errors, as mocking the internal error types
	// of the Firebase SDK is brittle.
}

func TestDispatch_Batching(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	msg := dispatch.Message{Title: "advisory", Data: map[string]string{"message_id": "b1"}}

	t.Run("1200 Tokens Split Into 500/500/200", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := makeTokens(1200)

		var batchSizes []int
		var dispatched []string
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Run(func(args mock.Arguments) {
				mm := args.Get(1).(*messaging.MulticastMessage)
				batchSizes = append(batchSizes, len(mm.Tokens))
				dispatched = append(dispatched, mm.Tokens...)
			}).
			Return(allSuccess(0), nil).Times(3)

		report, err := dispatcher.Dispatch(ctx, tokens, msg)

		require.NoError(t, err)
		assert.Equal(t, 3, report.Batches)
		assert.Equal(t, []int{500, 500, 200}, batchSizes)

		// Union of all batches equals the original set, no duplicates.
		assert.Equal(t, tokens, dispatched)
		mockClient.AssertExpectations(t)
	})

	t.Run("Failed Batch Does Not Abort Others", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := makeTokens(fcm.MaxBatchSize + 1)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Return(nil, errors.New("deadline exceeded")).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Return(allSuccess(1), nil).Once()

		report, err := dispatcher.Dispatch(ctx, tokens, msg)

		// The transport failure still surfaces so the event gets redelivered,
		// but the second batch was dispatched and counted.
		require.Error(t, err)
		assert.Equal(t, 2, report.Batches)
		assert.Equal(t, 1, report.SuccessCount)
		assert.Equal(t, fcm.MaxBatchSize, report.FailureCount)
		mockClient.AssertExpectations(t)
	})
}

func TestDispatch_MessageShape(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Data-Only Message Omits Notification Block", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		var sent *messaging.MulticastMessage
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*messaging.MulticastMessage) }).
			Return(allSuccess(1), nil)

		_, err := dispatcher.Dispatch(ctx, []string{"t1"}, dispatch.Message{
			Title:  "routine inspection",
			Data:   map[string]string{"message_id": "m1"},
			Notify: false,
		})

		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.Nil(t, sent.Notification)
		assert.Nil(t, sent.Android)
		assert.Nil(t, sent.APNS)
	})

	t.Run("Urgent Message Carries Notification Block", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		var sent *messaging.MulticastMessage
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*messaging.MulticastMessage) }).
			Return(allSuccess(1), nil)

		_, err := dispatcher.Dispatch(ctx, []string{"t1"}, dispatch.Message{
			Title:  "稽查結果不合格",
			Body:   "詳情請看",
			Data:   map[string]string{"message_id": "m2"},
			Notify: true,
		})

		require.NoError(t, err)
		require.NotNil(t, sent)
		require.NotNil(t, sent.Notification)
		assert.Equal(t, "稽查結果不合格", sent.Notification.Title)
		require.NotNil(t, sent.Android)
		assert.Equal(t, "high", sent.Android.Priority)
		require.NotNil(t, sent.APNS)
	})
}
