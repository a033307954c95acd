// Package convo はチャネル非依存の会話エンジンを提供する。
// 受信イベントを(ユーザー, チャネル)ごとの会話ステートマシンに適用し、
// 応答メッセージを生成する。状態はリプレイス再起動に耐えるよう永続化される。
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/metrics"
	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/provider"
	"github.com/hitoshi/meterman/internal/repository"
	"github.com/hitoshi/meterman/internal/security"
	"github.com/hitoshi/meterman/internal/usage"
)

// ポストバックペイロードのプレフィックス。
// メーター選択はクイックリプライにIDを埋め込むことで状態を持たずに行う。
const (
	payloadCancel     = "cancel"
	payloadMinBalance = "minbal:"
	payloadRemove     = "remove:"
)

// EngineService は会話エンジンのインターフェースを定義する。
type EngineService interface {
	// Handle は受信イベントを処理し、ユーザーへの応答を返す。
	// 同一(ユーザー, チャネル)のイベントは到着順に直列処理される。
	Handle(ctx context.Context, user *model.User, event model.InboundEvent) (*model.Reply, error)
}

// Engine はEngineServiceの実装。
type Engine struct {
	users     repository.UserRepository
	meters    repository.MeterRepository
	readings  repository.ReadingRepository
	convos    repository.ConversationRepository
	fetcher   provider.FetcherService
	reporter  usage.ReporterService
	sanitizer security.TextSanitizerService
	collector metrics.MetricsCollector
	logger    *slog.Logger

	// interactiveTimeout は対話パスでの残高取得に適用するタイムアウト。
	// スイープより短く設定し、ユーザーを待たせすぎないようにする。
	interactiveTimeout time.Duration

	// fetchDebounce はこの窓内に確認済みのメーターを再フェッチせず
	// 保存残高を再利用する窓。スイープ直後の/checkや連打を吸収する。
	fetchDebounce time.Duration

	// locks は(ユーザー, チャネル)ごとの直列化ロック。
	locks sync.Map // map[string]*sync.Mutex
}

// EngineDeps はEngineの依存関係。
type EngineDeps struct {
	Users              repository.UserRepository
	Meters             repository.MeterRepository
	Readings           repository.ReadingRepository
	Convos             repository.ConversationRepository
	Fetcher            provider.FetcherService
	Reporter           usage.ReporterService
	Sanitizer          security.TextSanitizerService
	Collector          metrics.MetricsCollector
	Logger             *slog.Logger
	InteractiveTimeout time.Duration
	FetchDebounce      time.Duration
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		users:              deps.Users,
		meters:             deps.Meters,
		readings:           deps.Readings,
		convos:             deps.Convos,
		fetcher:            deps.Fetcher,
		reporter:           deps.Reporter,
		sanitizer:          deps.Sanitizer,
		collector:          deps.Collector,
		logger:             deps.Logger,
		interactiveTimeout: deps.InteractiveTimeout,
		fetchDebounce:      deps.FetchDebounce,
	}
}

// Handle は受信イベントを処理する。
func (e *Engine) Handle(ctx context.Context, user *model.User, event model.InboundEvent) (*model.Reply, error) {
	mu := e.lockFor(user.ID, event.Channel)
	mu.Lock()
	defer mu.Unlock()

	convo, err := e.convos.Find(ctx, user.ID, event.Channel)
	if err != nil {
		return nil, model.NewStorageError("find conversation state", err)
	}
	state := model.ConvoIdle
	if convo != nil {
		state = convo.State
	}

	if event.Postback != "" {
		return e.handlePostback(ctx, user, event)
	}
	if event.IsCommand() {
		return e.handleCommand(ctx, user, event, state)
	}
	return e.handleText(ctx, user, event, convo, state)
}

// lockFor は(ユーザー, チャネル)の直列化ロックを返す。
func (e *Engine) lockFor(userID string, channel model.Channel) *sync.Mutex {
	key := userID + "/" + string(channel)
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// handleCommand はトップレベルコマンドを処理する。
// フロー進行中に/cancel以外のコマンドが来た場合は暗黙にフローを破棄する。
func (e *Engine) handleCommand(ctx context.Context, user *model.User, event model.InboundEvent, state model.ConvoState) (*model.Reply, error) {
	cmd := event.Command()

	if cmd == "cancel" {
		if state == model.ConvoIdle {
			return &model.Reply{Text: msgNothingToCancel}, nil
		}
		if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
			return nil, err
		}
		return &model.Reply{Text: msgCancelled}, nil
	}

	if state != model.ConvoIdle {
		if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
			return nil, err
		}
	}

	switch cmd {
	case "start":
		return &model.Reply{Text: msgWelcome}, nil
	case "help":
		return &model.Reply{Text: msgHelp}, nil
	case "add":
		if err := e.saveState(ctx, &model.Conversation{
			UserID:  user.ID,
			Channel: event.Channel,
			State:   model.ConvoAwaitingMeterNumber,
		}); err != nil {
			return nil, err
		}
		return &model.Reply{Text: msgAddStart}, nil
	case "list":
		return e.listMeters(ctx, user)
	case "check":
		return e.checkBalances(ctx, user)
	case "remove":
		return e.chooseMeter(ctx, user, msgChooseRemove, payloadRemove)
	case "minbalance":
		return e.chooseMeter(ctx, user, msgChooseMinBalance, payloadMinBalance)
	case "reminder":
		return e.toggleReminder(ctx, user)
	case "report":
		return e.usageReport(ctx, user)
	default:
		return &model.Reply{Text: msgHint}, nil
	}
}

// handleText はコマンドでもポストバックでもないテキスト入力を処理する。
func (e *Engine) handleText(ctx context.Context, user *model.User, event model.InboundEvent, convo *model.Conversation, state model.ConvoState) (*model.Reply, error) {
	text := strings.TrimSpace(event.Text)

	switch state {
	case model.ConvoAwaitingMeterNumber:
		return e.collectMeterNumber(ctx, user, event, text)
	case model.ConvoAwaitingMeterNickname:
		return e.collectNicknameAndVerify(ctx, user, event, convo, text)
	case model.ConvoAwaitingMinBalance:
		return e.collectMinBalance(ctx, user, event, convo, text)
	}

	// idle時のフリーテキスト: "balance"が含まれていれば残高確認とみなす
	if strings.Contains(strings.ToLower(text), "balance") {
		return e.checkBalances(ctx, user)
	}
	return &model.Reply{Text: msgHint}, nil
}

// collectMeterNumber はメーター追加フローのステップ1（番号入力）を処理する。
// 無効な入力では状態を維持して再プロンプトする。
func (e *Engine) collectMeterNumber(ctx context.Context, user *model.User, event model.InboundEvent, text string) (*model.Reply, error) {
	if !model.ValidMeterNumber(text) {
		return &model.Reply{Text: msgInvalidMeterNumber}, nil
	}

	existing, err := e.meters.FindByUserAndNumber(ctx, user.ID, text)
	if err != nil {
		return nil, model.NewStorageError("find meter by number", err)
	}
	if existing != nil {
		if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
			return nil, err
		}
		return &model.Reply{
			Text: fmt.Sprintf("❌ You already track meter %s as %q", text, existing.Name),
		}, nil
	}

	if err := e.saveState(ctx, &model.Conversation{
		UserID:             user.ID,
		Channel:            event.Channel,
		State:              model.ConvoAwaitingMeterNickname,
		PendingMeterNumber: text,
	}); err != nil {
		return nil, err
	}
	return &model.Reply{Text: msgAskNickname}, nil
}

// collectNicknameAndVerify はメーター追加フローのステップ2（ニックネーム入力）を処理する。
// プロバイダでの検証に成功した場合のみメーターを作成する（終端遷移）。
func (e *Engine) collectNicknameAndVerify(ctx context.Context, user *model.User, event model.InboundEvent, convo *model.Conversation, text string) (*model.Reply, error) {
	name := e.sanitizer.SanitizeNickname(text)
	if name == "" {
		return &model.Reply{Text: msgInvalidNickname}, nil
	}

	reading, err := e.fetchWithRetry(ctx, convo.PendingMeterNumber)
	if err != nil {
		// 検証失敗は終端: 状態を破棄してユーザーに再試行を促す
		if clearErr := e.clearState(ctx, user.ID, event.Channel); clearErr != nil {
			return nil, clearErr
		}
		e.logger.Warn("メーター検証に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return &model.Reply{Text: msgVerifyFailed}, nil
	}

	now := time.Now()
	meter := &model.Meter{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Number:        convo.PendingMeterNumber,
		Name:          name,
		LastBalance:   decimal.NewNullDecimal(reading.Balance),
		LastCheckedAt: &reading.RecordedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.meters.Create(ctx, meter); err != nil {
		return nil, model.NewStorageError("create meter", err)
	}
	e.recordReading(ctx, meter.ID, reading)

	if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
		return nil, err
	}
	return &model.Reply{
		Text: fmt.Sprintf("✅ Meter %q (%s) added!\nCurrent balance: %s BDT",
			meter.Name, meter.Number, reading.Balance.StringFixed(2)),
	}, nil
}

// collectMinBalance は最低残高設定フローの金額入力を処理する。
func (e *Engine) collectMinBalance(ctx context.Context, user *model.User, event model.InboundEvent, convo *model.Conversation, text string) (*model.Reply, error) {
	amount, err := decimal.NewFromString(text)
	if err != nil || amount.IsNegative() {
		return &model.Reply{Text: msgInvalidAmount}, nil
	}

	meter, err := e.ownedMeter(ctx, user, convo.PendingMeterID)
	if err != nil {
		return nil, err
	}
	if meter == nil {
		if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
			return nil, err
		}
		return &model.Reply{Text: msgUnknownSelection}, nil
	}

	if err := e.meters.UpdateMinBalance(ctx, meter.ID, amount); err != nil {
		return nil, model.NewStorageError("update min balance", err)
	}
	if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
		return nil, err
	}
	return &model.Reply{
		Text: fmt.Sprintf("✅ Minimum balance for %q set to %s BDT.\nYou'll be alerted when the balance drops to or below it.",
			meter.Name, amount.StringFixed(2)),
	}, nil
}

// handlePostback はクイックリプライ/コールバックのペイロードを処理する。
func (e *Engine) handlePostback(ctx context.Context, user *model.User, event model.InboundEvent) (*model.Reply, error) {
	payload := event.Postback

	switch {
	case payload == payloadCancel:
		if err := e.clearState(ctx, user.ID, event.Channel); err != nil {
			return nil, err
		}
		return &model.Reply{Text: msgCancelled}, nil

	case strings.HasPrefix(payload, payloadMinBalance):
		meter, err := e.ownedMeter(ctx, user, strings.TrimPrefix(payload, payloadMinBalance))
		if err != nil {
			return nil, err
		}
		if meter == nil {
			return &model.Reply{Text: msgUnknownSelection}, nil
		}
		if err := e.saveState(ctx, &model.Conversation{
			UserID:         user.ID,
			Channel:        event.Channel,
			State:          model.ConvoAwaitingMinBalance,
			PendingMeterID: meter.ID,
		}); err != nil {
			return nil, err
		}
		return &model.Reply{Text: msgAskMinAmount}, nil

	case strings.HasPrefix(payload, payloadRemove):
		meter, err := e.ownedMeter(ctx, user, strings.TrimPrefix(payload, payloadRemove))
		if err != nil {
			return nil, err
		}
		if meter == nil {
			return &model.Reply{Text: msgUnknownSelection}, nil
		}
		if err := e.meters.Delete(ctx, meter.ID); err != nil {
			return nil, model.NewStorageError("delete meter", err)
		}
		return &model.Reply{
			Text: fmt.Sprintf("✅ Meter %q (%s) removed.", meter.Name, meter.Number),
		}, nil
	}

	return &model.Reply{Text: msgUnknownSelection}, nil
}

// ownedMeter は指定IDのメーターを取得し、所有者を検証する。
// 他ユーザーのメーターIDが細工されたポストバックで届いても操作させない。
func (e *Engine) ownedMeter(ctx context.Context, user *model.User, meterID string) (*model.Meter, error) {
	if meterID == "" {
		return nil, nil
	}
	meter, err := e.meters.FindByID(ctx, meterID)
	if err != nil {
		return nil, model.NewStorageError("find meter", err)
	}
	if meter == nil || meter.UserID != user.ID {
		return nil, nil
	}
	return meter, nil
}

// listMeters は/listの応答を生成する。
func (e *Engine) listMeters(ctx context.Context, user *model.User) (*model.Reply, error) {
	meters, err := e.meters.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewStorageError("list meters", err)
	}
	if len(meters) == 0 {
		return &model.Reply{Text: msgNoMeters}, nil
	}

	var b strings.Builder
	b.WriteString("📊 Your meters:")
	for i, meter := range meters {
		fmt.Fprintf(&b, "\n\n%d. %s (%s)", i+1, meter.Name, meter.Number)
		if meter.LastBalance.Valid {
			fmt.Fprintf(&b, "\nLast balance: %s BDT", meter.LastBalance.Decimal.StringFixed(2))
		}
		if meter.MinBalance.Valid {
			fmt.Fprintf(&b, "\nMin balance: %s BDT", meter.MinBalance.Decimal.StringFixed(2))
		}
	}
	return &model.Reply{Text: b.String()}, nil
}

// checkBalances は/checkの応答を生成する。全メーターを順に照会し、
// 個別の失敗は行単位で報告してレポート全体は返す。
func (e *Engine) checkBalances(ctx context.Context, user *model.User) (*model.Reply, error) {
	meters, err := e.meters.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewStorageError("list meters", err)
	}
	if len(meters) == 0 {
		return &model.Reply{Text: msgNoMeters}, nil
	}

	var b strings.Builder
	b.WriteString("💰 Balance report:")
	for i, meter := range meters {
		previous := meter.LastBalance

		// デバウンス窓内に確認済みなら保存残高を再利用し、プロバイダには行かない
		if e.withinDebounce(meter) {
			marker := "✅"
			if meter.ShouldAlert() {
				marker = "⚠️"
			}
			fmt.Fprintf(&b, "\n\n%d. %s %s (%s)\nBalance: %s BDT (checked recently)",
				i+1, marker, meter.Name, meter.Number, meter.LastBalance.Decimal.StringFixed(2))
			continue
		}

		reading, err := e.fetchWithRetry(ctx, meter.Number)
		if err != nil {
			e.logger.Warn("対話パスでの残高取得に失敗しました",
				slog.String("meter_id", meter.ID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(&b, "\n\n%d. %s (%s): ❌ could not fetch balance", i+1, meter.Name, meter.Number)
			continue
		}

		if err := e.meters.UpdateBalance(ctx, meter.ID, reading.Balance, reading.RecordedAt); err != nil {
			return nil, model.NewStorageError("update meter balance", err)
		}
		e.recordReading(ctx, meter.ID, reading)

		meter.LastBalance = decimal.NewNullDecimal(reading.Balance)
		marker := "✅"
		if meter.ShouldAlert() {
			marker = "⚠️"
		}
		fmt.Fprintf(&b, "\n\n%d. %s %s (%s)\nBalance: %s BDT", i+1, marker, meter.Name, meter.Number, reading.Balance.StringFixed(2))
		if previous.Valid {
			delta := reading.Balance.Sub(previous.Decimal)
			if !delta.IsZero() {
				sign := ""
				if delta.IsPositive() {
					sign = "+"
				}
				fmt.Fprintf(&b, " (%s%s since last check)", sign, delta.StringFixed(2))
			}
		}
	}
	return &model.Reply{Text: b.String()}, nil
}

// withinDebounce はデバウンス窓内に確認済みで保存残高を再利用できるかを返す。
func (e *Engine) withinDebounce(meter *model.Meter) bool {
	if e.fetchDebounce <= 0 || meter.LastCheckedAt == nil || !meter.LastBalance.Valid {
		return false
	}
	return time.Since(*meter.LastCheckedAt) < e.fetchDebounce
}

// chooseMeter はメーター選択のクイックリプライ付き応答を生成する。
func (e *Engine) chooseMeter(ctx context.Context, user *model.User, prompt, payloadPrefix string) (*model.Reply, error) {
	meters, err := e.meters.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewStorageError("list meters", err)
	}
	if len(meters) == 0 {
		return &model.Reply{Text: msgNoMeters}, nil
	}

	reply := &model.Reply{Text: prompt}
	for _, meter := range meters {
		reply.QuickReplies = append(reply.QuickReplies, model.QuickReply{
			Label:   fmt.Sprintf("%s (%s)", meter.Name, meter.Number),
			Payload: payloadPrefix + meter.ID,
		})
	}
	reply.QuickReplies = append(reply.QuickReplies, model.QuickReply{
		Label:   "Cancel",
		Payload: payloadCancel,
	})
	return reply, nil
}

// toggleReminder は日次リマインダーの有効/無効を切り替える。
func (e *Engine) toggleReminder(ctx context.Context, user *model.User) (*model.Reply, error) {
	enabled := !user.ReminderEnabled
	if err := e.users.SetReminderEnabled(ctx, user.ID, enabled); err != nil {
		return nil, model.NewStorageError("toggle reminder", err)
	}
	if enabled {
		return &model.Reply{Text: "✅ Daily reminder enabled. I'll send your balances after the daily check."}, nil
	}
	return &model.Reply{Text: "✅ Daily reminder disabled."}, nil
}

// usageReport は/reportの応答を生成する。
func (e *Engine) usageReport(ctx context.Context, user *model.User) (*model.Reply, error) {
	report, err := e.reporter.MonthlyReport(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return &model.Reply{Text: msgNoMeters}, nil
	}
	if len(report.Rows) == 0 {
		return &model.Reply{Text: msgNoUsageYet}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📈 Usage for %s:", report.MonthLabel)
	for _, row := range report.Rows {
		fmt.Fprintf(&b, "\n%s  %s BDT", row.Date, row.Used.StringFixed(2))
	}
	fmt.Fprintf(&b, "\n\nTotal: %s BDT", report.Total.StringFixed(2))
	return &model.Reply{Text: b.String()}, nil
}

// fetchWithRetry は対話パス用の残高取得。タイムアウトを適用し、
// ネットワークレベルの失敗（FetchError）に限り1回だけ再試行する。
// パース失敗は上流の構造変更を意味するため再試行しない。
func (e *Engine) fetchWithRetry(ctx context.Context, meterNumber string) (*model.Reading, error) {
	reading, err := e.fetchOnce(ctx, meterNumber)
	if err != nil && model.IsFetchError(err) {
		reading, err = e.fetchOnce(ctx, meterNumber)
	}
	return reading, err
}

func (e *Engine) fetchOnce(ctx context.Context, meterNumber string) (*model.Reading, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.interactiveTimeout)
	defer cancel()

	start := time.Now()
	reading, err := e.fetcher.Fetch(fetchCtx, meterNumber)
	e.collector.RecordFetchLatency(time.Since(start))
	if err != nil {
		if model.IsParseError(err) {
			e.collector.RecordParseFailure()
		} else {
			e.collector.RecordFetchFailure()
		}
		return nil, err
	}
	e.collector.RecordFetchSuccess()
	return reading, nil
}

// recordReading は残高観測を履歴に追記する。履歴の追記失敗は
// 現在残高の更新を妨げないようベストエフォートで扱う。
func (e *Engine) recordReading(ctx context.Context, meterID string, reading *model.Reading) {
	reading.ID = uuid.NewString()
	reading.MeterID = meterID
	if err := e.readings.Append(ctx, reading); err != nil {
		e.logger.Error("残高履歴の追記に失敗しました",
			slog.String("meter_id", meterID),
			slog.String("error", err.Error()),
		)
		return
	}
	e.collector.RecordReadingRecorded()
}

// saveState は会話状態を保存する。
func (e *Engine) saveState(ctx context.Context, convo *model.Conversation) error {
	convo.UpdatedAt = time.Now()
	if err := e.convos.Save(ctx, convo); err != nil {
		return model.NewStorageError("save conversation state", err)
	}
	return nil
}

// clearState は会話状態を破棄する。
func (e *Engine) clearState(ctx context.Context, userID string, channel model.Channel) error {
	if err := e.convos.Clear(ctx, userID, channel); err != nil {
		return model.NewStorageError("clear conversation state", err)
	}
	return nil
}

// compile-time interface check
var _ EngineService = (*Engine)(nil)
