package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/idgate/internal/model"
	"github.com/hitoshi/idgate/internal/repository"
	"github.com/hitoshi/idgate/internal/retry"
)

// SessionProvider は外部IDプロバイダーのセッション読み取りを抽象化する。
type SessionProvider interface {
	// GetSession は現在のセッションを返す。未ログインの場合はnilを返す。
	GetSession(ctx context.Context) (*model.Session, error)

	// OnSessionChanged はセッション変化（ログイン・ログアウト・トークン更新）の
	// 通知を購読する。購読解除用の関数を返す。
	OnSessionChanged(fn func(session *model.Session)) (unsubscribe func())
}

// MetricsRecorder は解決処理のメトリクス記録インターフェース。
// 実装はinternal/metricsのCollectorが提供する。nilの場合は記録しない。
type MetricsRecorder interface {
	RecordStateTransition(kind string)
	RecordProvisionAttempt()
	RecordProvisionExhausted()
	RecordResolveLatency(d time.Duration)
}

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	// ProvisionMaxAttempts はプロファイル作成の最大試行回数（デフォルト: 3）。
	ProvisionMaxAttempts int
	// ProvisionBackoffStep は線形バックオフの刻み幅（デフォルト: 1秒）。
	// n回目の失敗後にn×ProvisionBackoffStepだけ待機する。
	ProvisionBackoffStep time.Duration
	// Sleeper はリトライ待機の実装。テスト用に注入可能。
	Sleeper retry.Sleeper
}

// resolveTimeout は非同期イベント起点の解決処理に与えるタイムアウト。
const resolveTimeout = 10 * time.Second

// Resolver はセッションとプロファイルから単一のStateを計算し公開する。
// 状態の変更は全てこの型を経由する。外部からcurrentを直接書き換えることはできない。
//
// 並行性:
//   - 同一ユーザーに対する並行解決はsingleflightで合流し、ProfileStoreへの
//     フェッチは1回しか発行されない。
//   - 各イベント（セッション変化・審査変化・手動リトライ）はepochを進め、
//     古いepochで開始された解決結果は公開時に破棄される（イベント受信順での
//     last-write-wins。完了順ではない）。
//   - 実行中のプロビジョニングは新しいイベントの到着でキャンセルされる。
type Resolver struct {
	provider SessionProvider
	profiles repository.ProfileRepository
	logger   *slog.Logger
	metrics  MetricsRecorder
	cfg      ResolverConfig

	group singleflight.Group

	mu           sync.Mutex
	started      bool
	epoch        uint64
	session      *model.Session
	current      State
	subs         map[int]func(State)
	nextSubID    int
	provisionSeq uint64
	provisionTok uint64 // 0 = プロビジョニング実行中でない
	provisionCancel     context.CancelFunc
	unsubscribeProvider func()

	// notifyMu は購読者への通知をコミット順に直列化する。
	// 購読者のコールバック内からResolverのメソッドを呼んではならない。
	notifyMu sync.Mutex
}

// NewResolver はResolverを生成する。metricsはnil可。
func NewResolver(
	provider SessionProvider,
	profiles repository.ProfileRepository,
	logger *slog.Logger,
	metrics MetricsRecorder,
	cfg ResolverConfig,
) *Resolver {
	if cfg.ProvisionMaxAttempts <= 0 {
		cfg.ProvisionMaxAttempts = 3
	}
	if cfg.ProvisionBackoffStep <= 0 {
		cfg.ProvisionBackoffStep = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		provider: provider,
		profiles: profiles,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		subs:     make(map[int]func(State)),
	}
}

// Start はプロバイダーのセッション変化通知を購読し、初回の解決を実行する。
// 2回目以降の呼び出しは現在の状態を返すだけで何もしない。
func (r *Resolver) Start(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.started {
		st := r.current
		r.mu.Unlock()
		return st, nil
	}
	r.started = true
	r.mu.Unlock()

	r.unsubscribeProvider = r.provider.OnSessionChanged(r.handleSessionChanged)

	session, err := r.provider.GetSession(ctx)
	if err != nil {
		// セッションの取得に失敗した場合は匿名として扱う。
		// プロバイダー側が復旧すればOnSessionChangedで再解決される。
		r.logger.Warn("failed to get session on start, treating as anonymous",
			slog.String("error", err.Error()),
		)
		session = nil
	}

	epoch := r.recordEvent(session)
	return r.resolveSnapshot(ctx, session, epoch)
}

// Close はプロバイダーの購読を解除し、実行中のプロビジョニングを中断する。
func (r *Resolver) Close() {
	r.mu.Lock()
	cancel := r.provisionCancel
	r.provisionCancel = nil
	r.provisionTok = 0
	unsub := r.unsubscribeProvider
	r.unsubscribeProvider = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
}

// Current は現在の状態のスナップショットを同期的に返す。
// Startが呼ばれていない場合はプログラミングエラーとしてpanicする。
func (r *Resolver) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		panic("identity: Resolver.Current called before Start")
	}
	return r.current
}

// Subscribe は状態遷移のたびに呼ばれるコールバックを登録し、購読解除関数を返す。
// コールバックはブロックしてはならず、Resolverのメソッドを呼び返してはならない。
func (r *Resolver) Subscribe(fn func(State)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Resolve は最新のスナップショットから状態を再計算して返す。
// 周期チェックとイベントコールバックの両方から再入的に呼ばれるため、
// 同一ユーザーへの並行呼び出しは1回のProfileStoreフェッチに合流する。
func (r *Resolver) Resolve(ctx context.Context) (State, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		panic("identity: Resolver.Resolve called before Start")
	}
	session := r.session
	epoch := r.epoch
	r.mu.Unlock()

	return r.resolveSnapshot(ctx, session, epoch)
}

// RetryProvisioning はProvisioningFailed状態からの手動リトライを実行する。
// それ以外の状態では現在の状態をそのまま返す。
func (r *Resolver) RetryProvisioning(ctx context.Context) (State, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		panic("identity: Resolver.RetryProvisioning called before Start")
	}
	if r.current.Kind != KindProvisioningFailed {
		st := r.current
		r.mu.Unlock()
		return st, nil
	}
	session := r.session
	epoch := r.newEventLocked()
	r.mu.Unlock()

	return r.resolveSnapshot(ctx, session, epoch)
}

// NotifyVerificationChanged は審査状態の帯域外変更（管理者の承認・否認）を
// 受けて再解決する。現在のセッションと無関係なユーザーの通知は無視する。
func (r *Resolver) NotifyVerificationChanged(ctx context.Context, userID string) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	session := r.session
	if session == nil || session.UserID != userID {
		r.mu.Unlock()
		return
	}
	epoch := r.newEventLocked()
	r.mu.Unlock()

	if _, err := r.resolveSnapshot(ctx, session, epoch); err != nil {
		r.logger.Warn("re-resolve after verification change failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// handleSessionChanged はプロバイダーからのセッション変化通知を処理する。
func (r *Resolver) handleSessionChanged(session *model.Session) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	epoch := r.recordEvent(session)

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	if _, err := r.resolveSnapshot(ctx, session, epoch); err != nil {
		r.logger.Warn("re-resolve after session change failed",
			slog.String("error", err.Error()),
		)
	}
}

// recordEvent はセッションスナップショットを更新し、新しいepochを払い出す。
func (r *Resolver) recordEvent(session *model.Session) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = session
	return r.newEventLocked()
}

// newEventLocked はepochを進め、実行中のプロビジョニングをキャンセルする。
// 呼び出し側がmuを保持していること。
func (r *Resolver) newEventLocked() uint64 {
	r.epoch++
	if r.provisionCancel != nil {
		r.provisionCancel()
		r.provisionCancel = nil
		r.provisionTok = 0
	}
	return r.epoch
}

// resolveSnapshot は与えられたスナップショットからStateを計算し公開する。
// epochが既に古い場合、計算結果は公開時に破棄される。
func (r *Resolver) resolveSnapshot(ctx context.Context, session *model.Session, epoch uint64) (State, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordResolveLatency(time.Since(start))
		}
	}()

	if session == nil {
		st := State{Kind: KindAnonymous}
		r.publish(st, epoch)
		return st, nil
	}

	// 同一ユーザーへの並行解決を合流させる。実行中の解決がある場合、
	// 2つ目の呼び出しは新たなフェッチを発行せず同じ結果を受け取る。
	v, err, _ := r.group.Do(session.UserID, func() (any, error) {
		return r.profiles.FindByUserID(ctx, session.UserID)
	})

	var profile *model.Profile
	if err != nil {
		// フェッチ失敗は一時的エラーとして扱い、プロビジョニング列に回す。
		// UIをブロックしないため、ここではエラーを表面化しない。
		r.logger.Warn("profile fetch failed, entering provisioning",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
	} else if v != nil {
		profile, _ = v.(*model.Profile)
	}

	st := Classify(session, profile)
	r.publish(st, epoch)

	if st.Kind == KindProvisioning {
		r.startProvisioning(session, epoch)
	}

	return st, nil
}

// startProvisioning はプロファイル作成のリトライ列をバックグラウンドで開始する。
// 同一ユーザーのプロビジョニングが既に実行中の場合は重複起動しない。
func (r *Resolver) startProvisioning(session *model.Session, epoch uint64) {
	r.mu.Lock()
	if epoch != r.epoch || r.provisionTok != 0 {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.provisionSeq++
	token := r.provisionSeq
	r.provisionTok = token
	r.provisionCancel = cancel
	r.mu.Unlock()

	go r.runProvisioning(ctx, token, session, epoch)
}

// runProvisioning はEnsureExistsを上限付き線形バックオフで試行する。
// 成功時は新しいプロファイルで即座に再分類し、上限到達時はProvisioningFailedを公開する。
// 実行中に新しいイベントが到着した場合は公開を行わずに中断する。
func (r *Resolver) runProvisioning(ctx context.Context, token uint64, session *model.Session, epoch uint64) {
	defer func() {
		r.mu.Lock()
		if r.provisionTok == token {
			r.provisionTok = 0
			r.provisionCancel = nil
		}
		r.mu.Unlock()
	}()

	var created *model.Profile
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: r.cfg.ProvisionMaxAttempts,
		Delay:       retry.Linear(r.cfg.ProvisionBackoffStep),
		Sleep:       r.cfg.Sleeper,
	}, func(ctx context.Context, attempt int) error {
		if r.metrics != nil {
			r.metrics.RecordProvisionAttempt()
		}
		p, err := r.profiles.EnsureExists(ctx, repository.EnsureProfileParams{
			UserID:   session.UserID,
			Nickname: nicknameFor(session),
			Phone:    metadataString(session, "phone"),
			Email:    session.Email,
		})
		if err != nil {
			r.logger.Warn("profile provisioning attempt failed",
				slog.String("user_id", session.UserID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		if !p.Confirmed() {
			return fmt.Errorf("ensured profile has no created_at")
		}
		created = p
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			// 新しいイベントに追い越された。古い結果は公開しない。
			r.logger.Debug("provisioning superseded",
				slog.String("user_id", session.UserID),
			)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordProvisionExhausted()
		}
		r.logger.Error("profile provisioning exhausted",
			slog.String("user_id", session.UserID),
			slog.Int("max_attempts", r.cfg.ProvisionMaxAttempts),
			slog.String("error", err.Error()),
		)
		r.publishAdvance(State{
			Kind:   KindProvisioningFailed,
			UserID: session.UserID,
			Email:  session.Email,
		}, epoch)
		return
	}

	r.logger.Info("profile provisioned",
		slog.String("user_id", session.UserID),
	)
	r.publishAdvance(Classify(session, created), epoch)
}

// publish はepochが最新の場合のみ状態を公開する。
func (r *Resolver) publish(st State, epoch uint64) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if epoch != r.epoch {
		r.mu.Unlock()
		return
	}
	subs, changed := r.commitLocked(st)
	r.mu.Unlock()

	r.notify(st, subs, changed)
}

// publishAdvance は親イベントがまだ最新の場合のみ、epochを進めた上で公開する。
// プロビジョニング完了を新しいイベントとして扱うことで、同じ親epochを持つ
// 遅延した解決結果がこの状態を巻き戻すことを防ぐ。
func (r *Resolver) publishAdvance(st State, parentEpoch uint64) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if parentEpoch != r.epoch {
		r.mu.Unlock()
		return
	}
	r.epoch++
	subs, changed := r.commitLocked(st)
	r.mu.Unlock()

	r.notify(st, subs, changed)
}

// commitLocked は現在状態を更新し、通知対象の購読者を返す。muを保持して呼ぶこと。
func (r *Resolver) commitLocked(st State) ([]func(State), bool) {
	if st == r.current {
		return nil, false
	}
	r.current = st
	subs := make([]func(State), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs, true
}

func (r *Resolver) notify(st State, subs []func(State), changed bool) {
	if !changed {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordStateTransition(st.Kind.String())
	}
	r.logger.Info("identity state changed",
		slog.String("state", st.Kind.String()),
		slog.String("user_id", st.UserID),
	)
	for _, fn := range subs {
		fn(st)
	}
}

// nicknameFor はセッションからニックネームを導出する。
// メタデータのnicknameを優先し、なければメールアドレスのローカル部を使う。
func nicknameFor(session *model.Session) string {
	if n := metadataString(session, "nickname"); n != "" {
		return n
	}
	if at := strings.Index(session.Email, "@"); at > 0 {
		return session.Email[:at]
	}
	if len(session.UserID) >= 8 {
		return "user-" + session.UserID[:8]
	}
	return "user-" + session.UserID
}

func metadataString(session *model.Session, key string) string {
	if session.Metadata == nil {
		return ""
	}
	if v, ok := session.Metadata[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
