// Package provider はNESCO顧客ポータルからプリペイド残高を取得する機能を提供する。
// ポータルはCSRFトークン付きの2段階フォーム（GET→POST）で、
// 結果ページのdisabledテキスト入力欄から残高を抽出する。
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/meterman/internal/model"
)

// submitLabel はポータルのフォーム送信ボタンのラベル（「リチャージ履歴」のベンガル語）。
const submitLabel = "রিচার্জ হিস্ট্রি"

// FetcherService は残高取得機能のインターフェースを定義する。
// 対話フロー（メーター追加・残高確認）とスイープの両方で使用される。
type FetcherService interface {
	// Fetch は指定メーター番号の現在残高を取得する。
	// 成功時はRecordedAtに取得時刻を設定したReadingを返す（MeterIDは呼び出し元が設定する）。
	// ネットワーク・HTTPエラーはmodel.FetchError、
	// ページ構造の想定外はmodel.ParseErrorとして返す。
	// リトライは行わない（ポリシーは呼び出し元が決める）。
	Fetch(ctx context.Context, meterNumber string) (*model.Reading, error)
}

// Client はNESCO顧客ポータルのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	panelURL     string // テスト用にエンドポイントを差し替え可能
	balanceIndex int    // 結果ページのdisabled入力欄のうち残高が入る位置
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, panelURL string, balanceIndex int) *Client {
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		panelURL:     panelURL,
		balanceIndex: balanceIndex,
	}
}

// Fetch は指定メーター番号の現在残高をポータルから取得する。
func (c *Client) Fetch(ctx context.Context, meterNumber string) (*model.Reading, error) {
	// CSRFトークンはセッションCookieと対になっているため、
	// 並行フェッチでセッションが混ざらないよう取得ごとに独立したJarを使う
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, model.NewFetchError("create cookie jar", err)
	}
	session := *c.httpClient
	session.Jar = jar

	token, err := c.fetchCSRFToken(ctx, &session)
	if err != nil {
		return nil, err
	}

	balance, err := c.submitAndParse(ctx, &session, token, meterNumber)
	if err != nil {
		return nil, err
	}

	return &model.Reading{
		Balance:    balance,
		RecordedAt: time.Now(),
	}, nil
}

// fetchCSRFToken はパネルページを取得し、hidden入力欄からCSRFトークンを抽出する。
func (c *Client) fetchCSRFToken(ctx context.Context, session *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.panelURL, nil)
	if err != nil {
		return "", model.NewFetchError("build panel request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := session.Do(req)
	if err != nil {
		c.logger.Error("ポータルページの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return "", model.NewFetchError("get panel page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ポータルがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", model.NewFetchError("get panel page", &statusError{resp.StatusCode})
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", model.NewParseError("failed to parse panel HTML")
	}

	token, _ := doc.Find(`input[name="_token"]`).First().Attr("value")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.NewParseError("CSRF token not found in panel page")
	}
	return token, nil
}

// submitAndParse はメーター番号をフォーム送信し、結果ページから残高を抽出する。
func (c *Client) submitAndParse(ctx context.Context, session *http.Client, token, meterNumber string) (decimal.Decimal, error) {
	form := url.Values{
		"_token":  {token},
		"cust_no": {strings.TrimSpace(meterNumber)},
		"submit":  {submitLabel},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.panelURL, strings.NewReader(form.Encode()))
	if err != nil {
		return decimal.Zero, model.NewFetchError("build balance request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := session.Do(req)
	if err != nil {
		c.logger.Error("残高照会リクエストに失敗しました",
			slog.String("error", err.Error()),
		)
		return decimal.Zero, model.NewFetchError("post balance query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("残高照会がエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return decimal.Zero, model.NewFetchError("post balance query", &statusError{resp.StatusCode})
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return decimal.Zero, model.NewParseError("failed to parse result HTML")
	}

	inputs := doc.Find(`input[type="text"][disabled]`)
	if inputs.Length() == 0 {
		return decimal.Zero, model.NewParseError("no disabled text inputs in result page")
	}
	if c.balanceIndex >= inputs.Length() {
		return decimal.Zero, model.NewParseError("balance input index out of range")
	}

	raw, _ := inputs.Eq(c.balanceIndex).Attr("value")
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return decimal.Zero, model.NewParseError("balance field empty or missing")
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, model.NewParseError("balance is not a number: %s", raw)
	}
	return balance, nil
}

// userAgent はポータルへのリクエストで使用するUser-Agent。
const userAgent = "Meterman/1.0 Balance Monitor"

// statusError はHTTPエラーステータスを表す。
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.code)
}

// compile-time interface check
var _ FetcherService = (*Client)(nil)
