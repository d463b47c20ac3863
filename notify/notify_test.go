package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tesouraria/brkmon/bills"
	"github.com/tesouraria/brkmon/locations"
)

func TestTelegramSendMessage(t *testing.T) {
	var got map[string]string
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	var tg = &Telegram{Token: "TOKEN", BaseURL: srv.URL + "/", HTTP: srv.Client()}
	var ok, err = tg.Send(context.Background(), "-100200300", "hello", nil, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]string{"chat_id": "-100200300", "text": "hello"}, got)
}

func TestTelegramSendDocument(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendDocument", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, "-100200300", r.FormValue("chat_id"))
		require.Equal(t, "monthly report", r.FormValue("caption"))

		var f, hdr, err = r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()

		require.Equal(t, "report.xlsx", hdr.Filename)
		b, _ := io.ReadAll(f)
		require.Equal(t, "content", string(b))

		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var tg = &Telegram{Token: "TOKEN", BaseURL: srv.URL, HTTP: srv.Client()}
	var ok, err = tg.Send(context.Background(), "-100200300", "monthly report", []byte("content"), "report.xlsx")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTelegramErrors(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	var tg = &Telegram{Token: "TOKEN", BaseURL: srv.URL, HTTP: srv.Client()}
	var ok, err = tg.Send(context.Background(), "42", "hello", nil, "")
	require.False(t, ok)
	require.EqualError(t, err, "telegram error 400: Bad Request: chat not found")

	_, err = tg.Send(context.Background(), "", "hello", nil, "")
	require.EqualError(t, err, "recipient is empty")

	_, err = (&Telegram{}).Send(context.Background(), "42", "hello", nil, "")
	require.EqualError(t, err, "telegram bot token is not configured")

	// Transport errors don't leak the token.
	srv.Close()
	_, err = tg.Send(context.Background(), "42", "hello", nil, "")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "TOKEN")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 3))
	require.Equal(t, "ab…", truncate("abcd", 3))
	require.Equal(t, "çã…", truncate("çãõü", 3))
}

func TestAlerterRoutesAlerts(t *testing.T) {
	var reg, err = locations.Parse([]byte(`
locations:
  - client_code: "4521"
    casa: CASA JARDIM
    recipient: "-100"
  - client_code: "7788"
    casa: CASA CENTRO
`))
	require.NoError(t, err)

	var fake = new(fakeNotifier)
	var a = Alerter{Registry: reg, Notifier: fake}
	var ctx = context.Background()

	var rec = bills.Record{
		ID: 7,
		Draft: bills.Draft{
			ClientCode:            "4521",
			BillingPeriod:         "06/2025",
			AlertLevel:            "alto consumo",
			MeasuredConsumption:   "40",
			AverageConsumption:    "20",
			ConsumptionPercentage: "+100%",
			Amount:                "R$ 310,00",
		},
		DuplicateStatus: bills.StatusNormal,
	}
	require.NoError(t, a.OnCommit(ctx, rec))
	require.Equal(t, []string{"-100"}, fake.recipients)
	require.Equal(t, strings.Join([]string{
		"⚠️ ALTO CONSUMO: CASA JARDIM",
		"CDC 4521, competência 06/2025",
		"Consumo medido: 40",
		"Média 6 meses: 20",
		"Variação: +100%",
		"Valor: R$ 310,00",
	}, "\n"), fake.texts[0])

	// Records without alerts, or of locations without recipients, aren't sent.
	var normal = rec
	normal.AlertLevel = "NORMAL"
	require.NoError(t, a.OnCommit(ctx, normal))

	var unrouted = rec
	unrouted.ClientCode = "7788"
	require.NoError(t, a.OnCommit(ctx, unrouted))

	unrouted.ClientCode = "0000"
	require.NoError(t, a.OnCommit(ctx, unrouted))
	require.Len(t, fake.recipients, 1)

	// Failures to send are returned.
	fake.err = errors.New("boom")
	require.EqualError(t, a.OnCommit(ctx, rec), "sending alert of record 7: boom")

	fake.err, fake.undelivered = nil, true
	require.EqualError(t, a.OnCommit(ctx, rec), "alert of record 7 was not delivered")
}

func TestLogNotifier(t *testing.T) {
	var ok, err = Log{}.Send(context.Background(), "-100", "hello", []byte("x"), "x.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

type fakeNotifier struct {
	recipients, texts []string
	err               error
	undelivered       bool
}

func (f *fakeNotifier) Send(_ context.Context, recipient, text string, _ []byte, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	} else if f.undelivered {
		return false, nil
	}
	f.recipients = append(f.recipients, recipient)
	f.texts = append(f.texts, text)
	return true, nil
}
