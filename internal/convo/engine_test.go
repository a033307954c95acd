package convo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/security"
	"github.com/hitoshi/meterman/internal/usage"
)

// --- インメモリモック ---

type memUserRepo struct {
	reminderSet map[string]bool
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return nil, nil
}
func (m *memUserRepo) FindByChannelIdentity(ctx context.Context, channel model.Channel, externalID string) (*model.User, error) {
	return nil, nil
}
func (m *memUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ChannelIdentity) error {
	return nil
}
func (m *memUserRepo) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	return nil
}
func (m *memUserRepo) SetReminderEnabled(ctx context.Context, userID string, enabled bool) error {
	if m.reminderSet == nil {
		m.reminderSet = map[string]bool{}
	}
	m.reminderSet[userID] = enabled
	return nil
}
func (m *memUserRepo) ListReminderEnabled(ctx context.Context) ([]*model.User, error) {
	return nil, nil
}
func (m *memUserRepo) ListIdentitiesByUserID(ctx context.Context, userID string) ([]*model.ChannelIdentity, error) {
	return nil, nil
}
func (m *memUserRepo) ListAllIdentities(ctx context.Context) ([]*model.ChannelIdentity, error) {
	return nil, nil
}

type memMeterRepo struct {
	meters []*model.Meter
}

func (m *memMeterRepo) FindByID(ctx context.Context, id string) (*model.Meter, error) {
	for _, meter := range m.meters {
		if meter.ID == id {
			return meter, nil
		}
	}
	return nil, nil
}
func (m *memMeterRepo) FindByUserAndNumber(ctx context.Context, userID, number string) (*model.Meter, error) {
	for _, meter := range m.meters {
		if meter.UserID == userID && meter.Number == number {
			return meter, nil
		}
	}
	return nil, nil
}
func (m *memMeterRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Meter, error) {
	var out []*model.Meter
	for _, meter := range m.meters {
		if meter.UserID == userID {
			out = append(out, meter)
		}
	}
	return out, nil
}
func (m *memMeterRepo) ListAll(ctx context.Context) ([]*model.Meter, error) {
	return m.meters, nil
}
func (m *memMeterRepo) Create(ctx context.Context, meter *model.Meter) error {
	m.meters = append(m.meters, meter)
	return nil
}
func (m *memMeterRepo) UpdateBalance(ctx context.Context, meterID string, balance decimal.Decimal, checkedAt time.Time) error {
	for _, meter := range m.meters {
		if meter.ID == meterID {
			meter.LastBalance = decimal.NewNullDecimal(balance)
			meter.LastCheckedAt = &checkedAt
		}
	}
	return nil
}
func (m *memMeterRepo) UpdateMinBalance(ctx context.Context, meterID string, min decimal.Decimal) error {
	for _, meter := range m.meters {
		if meter.ID == meterID {
			meter.MinBalance = decimal.NewNullDecimal(min)
		}
	}
	return nil
}
func (m *memMeterRepo) Delete(ctx context.Context, meterID string) error {
	var kept []*model.Meter
	for _, meter := range m.meters {
		if meter.ID != meterID {
			kept = append(kept, meter)
		}
	}
	m.meters = kept
	return nil
}

type memReadingRepo struct {
	readings []*model.Reading
}

func (m *memReadingRepo) Append(ctx context.Context, reading *model.Reading) error {
	m.readings = append(m.readings, reading)
	return nil
}
func (m *memReadingRepo) LatestAtOrBefore(ctx context.Context, meterID string, at time.Time) (*model.Reading, error) {
	return nil, nil
}
func (m *memReadingRepo) ListSince(ctx context.Context, meterID string, since time.Time) ([]*model.Reading, error) {
	return nil, nil
}

type memConvoRepo struct {
	states map[string]*model.Conversation
}

func convoKey(userID string, channel model.Channel) string {
	return userID + "/" + string(channel)
}

func (m *memConvoRepo) Find(ctx context.Context, userID string, channel model.Channel) (*model.Conversation, error) {
	if m.states == nil {
		return nil, nil
	}
	return m.states[convoKey(userID, channel)], nil
}
func (m *memConvoRepo) Save(ctx context.Context, convo *model.Conversation) error {
	if m.states == nil {
		m.states = map[string]*model.Conversation{}
	}
	m.states[convoKey(convo.UserID, convo.Channel)] = convo
	return nil
}
func (m *memConvoRepo) Clear(ctx context.Context, userID string, channel model.Channel) error {
	delete(m.states, convoKey(userID, channel))
	return nil
}

// scriptedFetcher は呼び出しごとにあらかじめ仕込んだ結果を順に返す。
type scriptedFetcher struct {
	results []fetchResult
	calls   int
}

type fetchResult struct {
	balance string
	err     error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, meterNumber string) (*model.Reading, error) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		return nil, model.NewFetchError("fetch", errors.New("no more scripted results"))
	}
	r := f.results[i]
	if r.err != nil {
		return nil, r.err
	}
	balance, _ := decimal.NewFromString(r.balance)
	return &model.Reading{Balance: balance, RecordedAt: time.Now()}, nil
}

type stubReporter struct {
	report *usage.MonthlyReport
	err    error
}

func (s *stubReporter) MonthlyReport(ctx context.Context, userID string) (*usage.MonthlyReport, error) {
	return s.report, s.err
}

// noopCollector はメトリクス収集のノーオペ実装。
type noopCollector struct{}

func (noopCollector) RecordFetchSuccess()               {}
func (noopCollector) RecordFetchFailure()               {}
func (noopCollector) RecordParseFailure()               {}
func (noopCollector) RecordFetchLatency(time.Duration)  {}
func (noopCollector) RecordReadingRecorded()            {}
func (noopCollector) RecordReminderSent()               {}
func (noopCollector) RecordAlertSent()                  {}
func (noopCollector) RecordDispatchFailure(string)      {}
func (noopCollector) RecordSweepDuration(time.Duration) {}

// --- テストフィクスチャ ---

type engineFixture struct {
	engine   *Engine
	users    *memUserRepo
	meters   *memMeterRepo
	readings *memReadingRepo
	convos   *memConvoRepo
	fetcher  *scriptedFetcher
	reporter *stubReporter
	user     *model.User
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		users:    &memUserRepo{},
		meters:   &memMeterRepo{},
		readings: &memReadingRepo{},
		convos:   &memConvoRepo{},
		fetcher:  &scriptedFetcher{},
		reporter: &stubReporter{},
		user:     &model.User{ID: "user-1", DisplayName: "Rahim"},
	}
	f.engine = NewEngine(EngineDeps{
		Users:              f.users,
		Meters:             f.meters,
		Readings:           f.readings,
		Convos:             f.convos,
		Fetcher:            f.fetcher,
		Reporter:           f.reporter,
		Sanitizer:          security.NewTextSanitizer(),
		Collector:          noopCollector{},
		Logger:             slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)),
		InteractiveTimeout: time.Second,
		FetchDebounce:      10 * time.Minute,
	})
	return f
}

func (f *engineFixture) handleText(t *testing.T, text string) *model.Reply {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), f.user, model.InboundEvent{
		Channel:    model.ChannelTelegram,
		ExternalID: "12345",
		Text:       text,
	})
	if err != nil {
		t.Fatalf("Handle(%q) がエラーを返した: %v", text, err)
	}
	return reply
}

func (f *engineFixture) handlePostback(t *testing.T, payload string) *model.Reply {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), f.user, model.InboundEvent{
		Channel:    model.ChannelTelegram,
		ExternalID: "12345",
		Postback:   payload,
	})
	if err != nil {
		t.Fatalf("Handle(postback %q) がエラーを返した: %v", payload, err)
	}
	return reply
}

func (f *engineFixture) state() *model.Conversation {
	return f.convos.states[convoKey(f.user.ID, model.ChannelTelegram)]
}

func (f *engineFixture) addMeter(id, number, name string) *model.Meter {
	meter := &model.Meter{
		ID:     id,
		UserID: f.user.ID,
		Number: number,
		Name:   name,
	}
	f.meters.meters = append(f.meters.meters, meter)
	return meter
}

// --- メーター追加フロー ---

func TestEngine_AddMeterFlow_Success(t *testing.T) {
	f := newEngineFixture(t)
	f.fetcher.results = []fetchResult{{balance: "523.10"}}

	reply := f.handleText(t, "/add")
	if reply.Text != msgAddStart {
		t.Errorf("Reply = %q, want msgAddStart", reply.Text)
	}
	if f.state() == nil || f.state().State != model.ConvoAwaitingMeterNumber {
		t.Fatal("/add後はメーター番号入力待ちになるべき")
	}

	reply = f.handleText(t, "31041051783")
	if reply.Text != msgAskNickname {
		t.Errorf("Reply = %q, want msgAskNickname", reply.Text)
	}
	if f.state().State != model.ConvoAwaitingMeterNickname {
		t.Fatal("番号入力後はニックネーム入力待ちになるべき")
	}
	if f.state().PendingMeterNumber != "31041051783" {
		t.Errorf("PendingMeterNumber = %q", f.state().PendingMeterNumber)
	}

	reply = f.handleText(t, "Home")
	if !strings.Contains(reply.Text, "523.10") {
		t.Errorf("応答に取得した残高を含むべき: %q", reply.Text)
	}
	if len(f.meters.meters) != 1 {
		t.Fatalf("メーターが1件作成されるべき: got %d", len(f.meters.meters))
	}
	meter := f.meters.meters[0]
	if meter.Number != "31041051783" || meter.Name != "Home" {
		t.Errorf("Meter = %q (%s)", meter.Name, meter.Number)
	}
	if !meter.LastBalance.Valid || meter.LastBalance.Decimal.StringFixed(2) != "523.10" {
		t.Errorf("LastBalance = %+v", meter.LastBalance)
	}
	if len(f.readings.readings) != 1 {
		t.Errorf("残高履歴が1件追記されるべき: got %d", len(f.readings.readings))
	}
	if f.state() != nil {
		t.Error("フロー完了後は会話状態が破棄されるべき")
	}
}

func TestEngine_AddMeterFlow_InvalidNumberReprompts(t *testing.T) {
	f := newEngineFixture(t)

	f.handleText(t, "/add")
	reply := f.handleText(t, "abc123")

	if reply.Text != msgInvalidMeterNumber {
		t.Errorf("Reply = %q, want msgInvalidMeterNumber", reply.Text)
	}
	if f.state() == nil || f.state().State != model.ConvoAwaitingMeterNumber {
		t.Error("無効な番号では状態を維持して再プロンプトすべき")
	}
	if len(f.meters.meters) != 0 {
		t.Error("メーターは作成されてはならない")
	}
}

func TestEngine_AddMeterFlow_DuplicateNumber(t *testing.T) {
	f := newEngineFixture(t)
	f.addMeter("m-1", "31041051783", "Home")

	f.handleText(t, "/add")
	reply := f.handleText(t, "31041051783")

	if !strings.Contains(reply.Text, "already track") {
		t.Errorf("重複番号の応答が想定外: %q", reply.Text)
	}
	if f.state() != nil {
		t.Error("重複番号では状態を破棄すべき")
	}
}

func TestEngine_AddMeterFlow_VerifyRetriesOnFetchError(t *testing.T) {
	f := newEngineFixture(t)
	f.fetcher.results = []fetchResult{
		{err: model.NewFetchError("get panel", errors.New("timeout"))},
		{balance: "100.00"},
	}

	f.handleText(t, "/add")
	f.handleText(t, "31041051783")
	reply := f.handleText(t, "Home")

	if f.fetcher.calls != 2 {
		t.Errorf("FetchErrorでは1回だけ再試行すべき: calls = %d", f.fetcher.calls)
	}
	if len(f.meters.meters) != 1 {
		t.Error("再試行成功後はメーターが作成されるべき")
	}
	if !strings.Contains(reply.Text, "100.00") {
		t.Errorf("応答に残高を含むべき: %q", reply.Text)
	}
}

func TestEngine_AddMeterFlow_VerifyFailsTwice(t *testing.T) {
	f := newEngineFixture(t)
	f.fetcher.results = []fetchResult{
		{err: model.NewFetchError("get panel", errors.New("timeout"))},
		{err: model.NewFetchError("get panel", errors.New("timeout"))},
	}

	f.handleText(t, "/add")
	f.handleText(t, "31041051783")
	reply := f.handleText(t, "Home")

	if reply.Text != msgVerifyFailed {
		t.Errorf("Reply = %q, want msgVerifyFailed", reply.Text)
	}
	if len(f.meters.meters) != 0 {
		t.Error("検証失敗時はメーターを作成してはならない")
	}
	if f.state() != nil {
		t.Error("検証失敗は終端: 状態を破棄すべき")
	}
}

func TestEngine_AddMeterFlow_NoRetryOnParseError(t *testing.T) {
	f := newEngineFixture(t)
	f.fetcher.results = []fetchResult{
		{err: model.NewParseError("CSRF token not found")},
		{balance: "100.00"},
	}

	f.handleText(t, "/add")
	f.handleText(t, "31041051783")
	reply := f.handleText(t, "Home")

	if f.fetcher.calls != 1 {
		t.Errorf("ParseErrorは再試行しないべき: calls = %d", f.fetcher.calls)
	}
	if reply.Text != msgVerifyFailed {
		t.Errorf("Reply = %q, want msgVerifyFailed", reply.Text)
	}
}

// --- キャンセル ---

func TestEngine_CancelInFlow(t *testing.T) {
	f := newEngineFixture(t)

	f.handleText(t, "/add")
	reply := f.handleText(t, "/cancel")

	if reply.Text != msgCancelled {
		t.Errorf("Reply = %q, want msgCancelled", reply.Text)
	}
	if f.state() != nil {
		t.Error("キャンセル後は状態が破棄されるべき")
	}
}

func TestEngine_CancelWhenIdle(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.handleText(t, "/cancel")
	if reply.Text != msgNothingToCancel {
		t.Errorf("Reply = %q, want msgNothingToCancel", reply.Text)
	}
}

func TestEngine_OtherCommandImplicitlyCancelsFlow(t *testing.T) {
	f := newEngineFixture(t)

	f.handleText(t, "/add")
	reply := f.handleText(t, "/list")

	if reply.Text != msgNoMeters {
		t.Errorf("Reply = %q, want msgNoMeters", reply.Text)
	}
	if f.state() != nil {
		t.Error("フロー外コマンドは進行中フローを暗黙に破棄すべき")
	}
}

// --- 最低残高フロー ---

func TestEngine_MinBalanceFlow(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")

	reply := f.handlePostback(t, payloadMinBalance+meter.ID)
	if reply.Text != msgAskMinAmount {
		t.Errorf("Reply = %q, want msgAskMinAmount", reply.Text)
	}
	if f.state() == nil || f.state().State != model.ConvoAwaitingMinBalance {
		t.Fatal("ポストバック後は金額入力待ちになるべき")
	}

	reply = f.handleText(t, "abc")
	if reply.Text != msgInvalidAmount {
		t.Errorf("Reply = %q, want msgInvalidAmount", reply.Text)
	}
	if f.state() == nil || f.state().State != model.ConvoAwaitingMinBalance {
		t.Error("無効な金額では状態を維持すべき")
	}

	reply = f.handleText(t, "100")
	if !strings.Contains(reply.Text, "100.00") {
		t.Errorf("応答に設定額を含むべき: %q", reply.Text)
	}
	if !meter.MinBalance.Valid || meter.MinBalance.Decimal.StringFixed(2) != "100.00" {
		t.Errorf("MinBalance = %+v, want 100.00", meter.MinBalance)
	}
	if f.state() != nil {
		t.Error("フロー完了後は状態が破棄されるべき")
	}
}

func TestEngine_MinBalanceFlow_NegativeAmount(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")

	f.handlePostback(t, payloadMinBalance+meter.ID)
	reply := f.handleText(t, "-50")

	if reply.Text != msgInvalidAmount {
		t.Errorf("Reply = %q, want msgInvalidAmount", reply.Text)
	}
}

// --- 削除 ---

func TestEngine_RemovePostback(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")

	reply := f.handlePostback(t, payloadRemove+meter.ID)

	if !strings.Contains(reply.Text, "removed") {
		t.Errorf("Reply = %q", reply.Text)
	}
	if len(f.meters.meters) != 0 {
		t.Error("メーターが削除されるべき")
	}
}

func TestEngine_PostbackForeignMeterRejected(t *testing.T) {
	f := newEngineFixture(t)
	foreign := &model.Meter{ID: "m-9", UserID: "someone-else", Number: "99999999", Name: "Their Meter"}
	f.meters.meters = append(f.meters.meters, foreign)

	reply := f.handlePostback(t, payloadRemove+foreign.ID)

	if reply.Text != msgUnknownSelection {
		t.Errorf("Reply = %q, want msgUnknownSelection", reply.Text)
	}
	if len(f.meters.meters) != 1 {
		t.Error("他ユーザーのメーターを削除してはならない")
	}
}

func TestEngine_PostbackUnknownMeter(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.handlePostback(t, payloadMinBalance+"no-such-id")
	if reply.Text != msgUnknownSelection {
		t.Errorf("Reply = %q, want msgUnknownSelection", reply.Text)
	}
}

// --- 残高確認・一覧 ---

func TestEngine_CheckBalances(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")
	meter.LastBalance = decimal.NewNullDecimal(decimal.RequireFromString("150.00"))
	f.fetcher.results = []fetchResult{{balance: "120.50"}}

	reply := f.handleText(t, "/check")

	if !strings.Contains(reply.Text, "120.50") {
		t.Errorf("応答に新しい残高を含むべき: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "-29.50") {
		t.Errorf("応答に前回比を含むべき: %q", reply.Text)
	}
	if len(f.readings.readings) != 1 {
		t.Error("確認時に残高履歴が追記されるべき")
	}
}

func TestEngine_CheckBalances_DebounceReusesStoredBalance(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")
	meter.LastBalance = decimal.NewNullDecimal(decimal.RequireFromString("150.00"))
	checkedAt := time.Now().Add(-time.Minute)
	meter.LastCheckedAt = &checkedAt

	reply := f.handleText(t, "/check")

	if f.fetcher.calls != 0 {
		t.Errorf("デバウンス窓内のメーターはプロバイダに照会しないべき: calls = %d", f.fetcher.calls)
	}
	if !strings.Contains(reply.Text, "150.00") {
		t.Errorf("応答に保存済み残高を含むべき: %q", reply.Text)
	}
	if len(f.readings.readings) != 0 {
		t.Error("再利用時は残高履歴を追記しないべき")
	}
}

func TestEngine_CheckBalances_DebounceExpiredRefetches(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")
	meter.LastBalance = decimal.NewNullDecimal(decimal.RequireFromString("150.00"))
	checkedAt := time.Now().Add(-time.Hour)
	meter.LastCheckedAt = &checkedAt
	f.fetcher.results = []fetchResult{{balance: "120.50"}}

	reply := f.handleText(t, "/check")

	if f.fetcher.calls != 1 {
		t.Errorf("窓を過ぎたメーターは再照会されるべき: calls = %d", f.fetcher.calls)
	}
	if !strings.Contains(reply.Text, "120.50") {
		t.Errorf("応答に新しい残高を含むべき: %q", reply.Text)
	}
}

func TestEngine_CheckBalances_PartialFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.addMeter("m-1", "31041051783", "Home")
	f.addMeter("m-2", "31041051784", "Shop")
	f.fetcher.results = []fetchResult{
		{err: model.NewParseError("layout changed")},
		{balance: "200.00"},
	}

	reply := f.handleText(t, "/check")

	if !strings.Contains(reply.Text, "could not fetch balance") {
		t.Errorf("失敗したメーターは行単位で報告されるべき: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "200.00") {
		t.Errorf("成功したメーターの残高は含まれるべき: %q", reply.Text)
	}
}

func TestEngine_FreeTextBalanceTriggersCheck(t *testing.T) {
	f := newEngineFixture(t)
	f.addMeter("m-1", "31041051783", "Home")
	f.fetcher.results = []fetchResult{{balance: "88.00"}}

	reply := f.handleText(t, "what's my balance?")

	if !strings.Contains(reply.Text, "88.00") {
		t.Errorf("\"balance\"を含むフリーテキストは残高確認を実行すべき: %q", reply.Text)
	}
}

func TestEngine_ListMeters(t *testing.T) {
	f := newEngineFixture(t)
	meter := f.addMeter("m-1", "31041051783", "Home")
	meter.LastBalance = decimal.NewNullDecimal(decimal.RequireFromString("42.00"))

	reply := f.handleText(t, "/list")

	if !strings.Contains(reply.Text, "Home") || !strings.Contains(reply.Text, "42.00") {
		t.Errorf("一覧にメーター名と残高を含むべき: %q", reply.Text)
	}
}

func TestEngine_ChooseMeterQuickReplies(t *testing.T) {
	f := newEngineFixture(t)
	f.addMeter("m-1", "31041051783", "Home")
	f.addMeter("m-2", "31041051784", "Shop")

	reply := f.handleText(t, "/remove")

	if reply.Text != msgChooseRemove {
		t.Errorf("Reply = %q, want msgChooseRemove", reply.Text)
	}
	// メーター2件 + キャンセル
	if len(reply.QuickReplies) != 3 {
		t.Fatalf("QuickReplies = %d, want 3", len(reply.QuickReplies))
	}
	if reply.QuickReplies[0].Payload != payloadRemove+"m-1" {
		t.Errorf("Payload = %q", reply.QuickReplies[0].Payload)
	}
	if reply.QuickReplies[2].Payload != payloadCancel {
		t.Errorf("最後の選択肢はキャンセルであるべき: %q", reply.QuickReplies[2].Payload)
	}
}

// --- その他のコマンド ---

func TestEngine_ToggleReminder(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.handleText(t, "/reminder")
	if !strings.Contains(reply.Text, "enabled") {
		t.Errorf("Reply = %q", reply.Text)
	}
	if !f.users.reminderSet[f.user.ID] {
		t.Error("リマインダーが有効化されるべき")
	}

	f.user.ReminderEnabled = true
	reply = f.handleText(t, "/reminder")
	if !strings.Contains(reply.Text, "disabled") {
		t.Errorf("Reply = %q", reply.Text)
	}
	if f.users.reminderSet[f.user.ID] {
		t.Error("リマインダーが無効化されるべき")
	}
}

func TestEngine_UsageReport(t *testing.T) {
	f := newEngineFixture(t)
	f.reporter.report = &usage.MonthlyReport{
		MonthLabel: "August 2026",
		Rows: []usage.DayUsage{
			{Date: "2026-08-01", Used: decimal.RequireFromString("12.50")},
			{Date: "2026-08-02", Used: decimal.RequireFromString("8.00")},
		},
		Total: decimal.RequireFromString("20.50"),
	}

	reply := f.handleText(t, "/report")

	if !strings.Contains(reply.Text, "August 2026") {
		t.Errorf("応答に月ラベルを含むべき: %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "Total: 20.50") {
		t.Errorf("応答に合計を含むべき: %q", reply.Text)
	}
}

func TestEngine_UsageReport_NoMeters(t *testing.T) {
	f := newEngineFixture(t)
	f.reporter.report = nil

	reply := f.handleText(t, "/report")
	if reply.Text != msgNoMeters {
		t.Errorf("Reply = %q, want msgNoMeters", reply.Text)
	}
}

func TestEngine_UnknownCommand(t *testing.T) {
	f := newEngineFixture(t)

	reply := f.handleText(t, "/frobnicate")
	if reply.Text != msgHint {
		t.Errorf("Reply = %q, want msgHint", reply.Text)
	}
}

func TestEngine_StartAndHelp(t *testing.T) {
	f := newEngineFixture(t)

	if reply := f.handleText(t, "/start"); reply.Text != msgWelcome {
		t.Errorf("/start の応答が想定外: %q", reply.Text)
	}
	if reply := f.handleText(t, "/help"); reply.Text != msgHelp {
		t.Errorf("/help の応答が想定外: %q", reply.Text)
	}
}
