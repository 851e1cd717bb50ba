package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/idgate/internal/model"
)

// --- モック定義 ---

type mockRefresher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*model.Session, error)
}

func (m *mockRefresher) RefreshSession(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(call)
	}
	return nil, nil
}

func (m *mockRefresher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ SessionRefresher = (*mockRefresher)(nil)

// instantSleeper は待機時間を記録し、実時間を消費しない。
func instantSleeper(mu *sync.Mutex, delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

// --- テスト ---

// 最初の試行でセッションが見えた場合は即座に成功することを検証
func TestCoordinator_Complete_ImmediateSuccess(t *testing.T) {
	refresher := &mockRefresher{
		fn: func(call int) (*model.Session, error) {
			return &model.Session{UserID: "user-1", Email: "a@example.com"}, nil
		},
	}
	var mu sync.Mutex
	var delays []time.Duration
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{
		Sleeper: instantSleeper(&mu, &delays),
	})

	result, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if result.Session == nil || result.Session.UserID != "user-1" {
		t.Errorf("Session = %+v", result.Session)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, want none", delays)
	}
}

// 4回nilを返し5回目でセッションが見える場合、ちょうど5回の試行と
// 4回分の待機（計6秒相当）で成功することを検証
func TestCoordinator_Complete_SucceedsOnFifthAttempt(t *testing.T) {
	refresher := &mockRefresher{
		fn: func(call int) (*model.Session, error) {
			if call < 5 {
				return nil, nil
			}
			return &model.Session{UserID: "user-1"}, nil
		},
	}
	var mu sync.Mutex
	var delays []time.Duration
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{
		MaxAttempts: 5,
		Interval:    1500 * time.Millisecond,
		Sleeper:     instantSleeper(&mu, &delays),
	})

	result, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("Success = false, want true")
	}
	if result.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.Attempts)
	}

	if len(delays) != 4 {
		t.Fatalf("len(delays) = %d, want 4", len(delays))
	}
	var total time.Duration
	for _, d := range delays {
		if d != 1500*time.Millisecond {
			t.Errorf("delay = %v, want 1.5s", d)
		}
		total += d
	}
	if total != 6*time.Second {
		t.Errorf("total wait = %v, want 6s", total)
	}
}

// セッションが決して現れない場合、ちょうど5回で打ち切り6回目は発生しないことを検証
func TestCoordinator_Complete_ExhaustedAfterExactlyFiveAttempts(t *testing.T) {
	refresher := &mockRefresher{
		fn: func(call int) (*model.Session, error) {
			return nil, nil
		},
	}
	var mu sync.Mutex
	var delays []time.Duration
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{
		MaxAttempts: 5,
		Interval:    1500 * time.Millisecond,
		Sleeper:     instantSleeper(&mu, &delays),
	})

	result, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("Exhaustedはエラーではなく結果として返すべき: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false")
	}
	if refresher.callCount() != 5 {
		t.Errorf("refresh calls = %d, want exactly 5", refresher.callCount())
	}
	if result.Session != nil {
		t.Errorf("Session = %+v, want nil", result.Session)
	}
}

// ネットワークエラーも一時的として扱いリトライされることを検証
func TestCoordinator_Complete_TransientErrorRetried(t *testing.T) {
	refresher := &mockRefresher{
		fn: func(call int) (*model.Session, error) {
			if call < 3 {
				return nil, errors.New("network error")
			}
			return &model.Session{UserID: "user-1"}, nil
		},
	}
	var mu sync.Mutex
	var delays []time.Duration
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{
		Sleeper: instantSleeper(&mu, &delays),
	})

	result, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

// ユーザーIDのないセッションは「まだ見えない」として扱うことを検証
func TestCoordinator_Complete_SessionWithoutUserNotReady(t *testing.T) {
	refresher := &mockRefresher{
		fn: func(call int) (*model.Session, error) {
			if call == 1 {
				return &model.Session{}, nil
			}
			return &model.Session{UserID: "user-1"}, nil
		},
	}
	var mu sync.Mutex
	var delays []time.Duration
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{
		Sleeper: instantSleeper(&mu, &delays),
	})

	result, err := c.Complete(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

// キャンセルされた場合はエラーとして中断することを検証
func TestCoordinator_Complete_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refresher := &mockRefresher{}
	c := NewCoordinator(refresher, nil, nil, CoordinatorConfig{})

	_, err := c.Complete(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if refresher.callCount() != 0 {
		t.Errorf("refresh calls = %d, want 0", refresher.callCount())
	}
}

// デフォルト設定が仕様の上限（5回×1.5秒）になることを検証
func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(&mockRefresher{}, nil, nil, CoordinatorConfig{})
	if c.cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.cfg.MaxAttempts)
	}
	if c.cfg.Interval != 1500*time.Millisecond {
		t.Errorf("Interval = %v, want 1.5s", c.cfg.Interval)
	}
}
