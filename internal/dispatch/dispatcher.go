package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/meterman/internal/metrics"
	"github.com/hitoshi/meterman/internal/model"
	"github.com/hitoshi/meterman/internal/repository"
)

// BroadcastResult は全ユーザー向け一斉送信の結果集計。
type BroadcastResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

// DispatcherService はメッセージ配送のインターフェースを定義する。
type DispatcherService interface {
	// Send は指定チャネルの指定ハンドル宛にメッセージを送信する。
	// 失敗はmodel.DispatchErrorとして返す。
	Send(ctx context.Context, channel model.Channel, externalID string, reply *model.Reply) error

	// SendToUser はユーザーが持つ全チャネルアイデンティティ宛に送信する。
	// 一部チャネルの失敗では残りへの送信を続け、最後のエラーを返す。
	SendToUser(ctx context.Context, userID string, reply *model.Reply) error

	// Broadcast は既知の全(ユーザー, チャネル)対へメッセージを送信する。
	// 個別の失敗で中断せず、試行数と成功数を返す。
	Broadcast(ctx context.Context, text string) (*BroadcastResult, error)
}

// Dispatcher はDispatcherServiceの実装。
type Dispatcher struct {
	senders   map[model.Channel]Sender
	users     repository.UserRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(users repository.UserRepository, collector metrics.MetricsCollector, logger *slog.Logger, senders ...Sender) *Dispatcher {
	byChannel := make(map[model.Channel]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{
		senders:   byChannel,
		users:     users,
		collector: collector,
		logger:    logger,
	}
}

// Send は指定チャネルの指定ハンドル宛にメッセージを送信する。
func (d *Dispatcher) Send(ctx context.Context, channel model.Channel, externalID string, reply *model.Reply) error {
	sender, ok := d.senders[channel]
	if !ok {
		return model.NewDispatchError(channel, externalID, fmt.Errorf("no sender configured"))
	}
	if err := sender.Send(ctx, externalID, reply); err != nil {
		d.collector.RecordDispatchFailure(string(channel))
		return model.NewDispatchError(channel, externalID, err)
	}
	return nil
}

// SendToUser はユーザーの全チャネルアイデンティティ宛に送信する。
func (d *Dispatcher) SendToUser(ctx context.Context, userID string, reply *model.Reply) error {
	identities, err := d.users.ListIdentitiesByUserID(ctx, userID)
	if err != nil {
		return model.NewStorageError("list channel identities", err)
	}

	var lastErr error
	for _, ident := range identities {
		if err := d.Send(ctx, ident.Channel, ident.ExternalID, reply); err != nil {
			d.logger.Warn("ユーザー宛送信に失敗しました",
				slog.String("user_id", userID),
				slog.String("channel", string(ident.Channel)),
				slog.String("error", err.Error()),
			)
			lastErr = err
		}
	}
	return lastErr
}

// Broadcast は既知の全(ユーザー, チャネル)対へメッセージを送信する。
func (d *Dispatcher) Broadcast(ctx context.Context, text string) (*BroadcastResult, error) {
	identities, err := d.users.ListAllIdentities(ctx)
	if err != nil {
		return nil, model.NewStorageError("list all identities", err)
	}

	reply := &model.Reply{Text: text}
	result := &BroadcastResult{}
	for _, ident := range identities {
		result.Attempted++
		if err := d.Send(ctx, ident.Channel, ident.ExternalID, reply); err != nil {
			d.logger.Warn("ブロードキャスト送信に失敗しました",
				slog.String("channel", string(ident.Channel)),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Succeeded++
	}

	d.logger.Info("ブロードキャストが完了しました",
		slog.Int("attempted", result.Attempted),
		slog.Int("succeeded", result.Succeeded),
	)
	return result, nil
}

// compile-time interface check
var _ DispatcherService = (*Dispatcher)(nil)
