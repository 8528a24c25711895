package watcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/mattjoyce/cliprun/internal/log"
	"github.com/mattjoyce/cliprun/internal/watcher/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func TestPoll_SingleInvocationPerChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	src := mocks.NewMockSource(ctrl)
	gomock.InOrder(
		src.EXPECT().ReadText().Return("https://a", nil),
		src.EXPECT().ReadText().Return("https://a", nil),
		src.EXPECT().ReadText().Return("", nil),
		src.EXPECT().ReadText().Return("  \n\t", nil),
		src.EXPECT().ReadText().Return("", errors.New("clipboard locked")),
		src.EXPECT().ReadText().Return("https://a", nil),
		src.EXPECT().ReadText().Return("https://b", nil),
		src.EXPECT().ReadText().Return("https://a", nil),
	)

	var got []string
	w := New(src, time.Millisecond, func(text string) { got = append(got, text) })

	fired := []bool{}
	for i := 0; i < 8; i++ {
		fired = append(fired, w.poll())
	}

	assert.Equal(t, []string{"https://a", "https://b", "https://a"}, got)
	assert.Equal(t, []bool{true, false, false, false, false, false, true, true}, fired)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	src := mocks.NewMockSource(ctrl)
	var mu sync.Mutex
	value := "first"
	src.EXPECT().ReadText().DoAndReturn(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return value, nil
	}).AnyTimes()

	seen := make(chan string, 10)
	w := New(src, 5*time.Millisecond, func(text string) { seen <- text })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case text := <-seen:
		assert.Equal(t, "first", text)
	case <-time.After(2 * time.Second):
		t.Fatal("initial value not reported")
	}

	mu.Lock()
	value = "second"
	mu.Unlock()

	select {
	case text := <-seen:
		assert.Equal(t, "second", text)
	case <-time.After(2 * time.Second):
		t.Fatal("change not reported")
	}

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Empty(t, seen, "unchanged value must not be reported again")
}

func TestNew_DefaultInterval(t *testing.T) {
	w := New(nil, 0, func(string) {})
	assert.Equal(t, DefaultPollInterval, w.interval)
}

func TestCopyBack_NotRedispatched(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cb := mocks.NewMockClipboard(ctrl)
	gomock.InOrder(
		cb.EXPECT().ReadText().Return("https://a&list=1", nil),
		cb.EXPECT().WriteText("https://a").Return(nil),
		cb.EXPECT().ReadText().Return("https://a", nil),
		cb.EXPECT().ReadText().Return("https://c", nil),
	)

	var got []string
	w := New(cb, time.Millisecond, func(text string) { got = append(got, text) })

	assert.True(t, w.poll())
	require.NoError(t, w.CopyBack("https://a"))
	assert.False(t, w.poll(), "copied link must not fire again")
	assert.True(t, w.poll())
	assert.Equal(t, []string{"https://a&list=1", "https://c"}, got)
}

func TestCopyBack_ReadOnlySource(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := New(mocks.NewMockSource(ctrl), time.Millisecond, func(string) {})
	assert.ErrorIs(t, w.CopyBack("x"), ErrReadOnly)
}

func TestCopyBack_WriteFailureKeepsLast(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cb := mocks.NewMockClipboard(ctrl)
	gomock.InOrder(
		cb.EXPECT().WriteText("https://a").Return(errors.New("no display")),
		cb.EXPECT().ReadText().Return("https://a", nil),
	)

	var got []string
	w := New(cb, time.Millisecond, func(text string) { got = append(got, text) })
	require.Error(t, w.CopyBack("https://a"))
	assert.True(t, w.poll())
	assert.Equal(t, []string{"https://a"}, got)
}
