package interpret

import (
	"strings"
	"testing"

	"chatrelay/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleStats = domain.UserStats{
	DailyUsed:        3,
	DailyTotal:       10,
	DailyRemaining:   7,
	MonthlyUsed:      20,
	MonthlyTotal:     100,
	MonthlyRemaining: 80,
	IsPremium:        false,
	CreatedAt:        "2024-01-15T10:00:00",
}

func TestInterpret_Stats(t *testing.T) {
	replies := Interpret(domain.TextReceived{UserID: "u1", Command: "/stats", Stats: sampleStats})
	require.Len(t, replies, 1)

	r := replies[0]
	assert.Equal(t, "u1", r.To)
	assert.Equal(t, "📊 Suas Estatísticas:\n"+
		"📅 Uso Diário: 3/10 (restam 7)\n"+
		"📆 Uso Mensal: 20/100 (restam 80)\n"+
		"👑 Me fez o pix?: Não ❌\n"+
		"📅 Membro desde: 2024-01-15", r.Text)
}

func TestInterpret_StatsPremium(t *testing.T) {
	s := sampleStats
	s.IsPremium = true
	s.CreatedAt = "2023-05"

	replies := Interpret(domain.TextReceived{UserID: "u1", Command: "/stats", Stats: s})
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "👑 Me fez o pix?: Sim ✅")
	assert.True(t, strings.HasSuffix(replies[0].Text, "Membro desde: 2023-05"))
}

func TestInterpret_Help(t *testing.T) {
	replies := Interpret(domain.TextReceived{UserID: "u1", Command: "/help", Stats: sampleStats})
	require.Len(t, replies, 1)

	text := replies[0].Text
	assert.True(t, strings.HasPrefix(text, "Comandos Disponíveis:\n/stats - "))
	assert.Contains(t, text, "📅 Diário: 7 mensagens restantes hoje")
	assert.Contains(t, text, "📆 Mensal: 80 mensagens restantes este mês")
	assert.True(t, strings.HasSuffix(text, "upgrade premium"))
}

func TestInterpret_Greeting(t *testing.T) {
	for _, cmd := range []string{"", "oi", "/STATS", "/unknown"} {
		replies := Interpret(domain.TextReceived{UserID: "u1", Command: cmd, Stats: sampleStats})
		require.Len(t, replies, 1, cmd)

		text := replies[0].Text
		assert.True(t, strings.HasPrefix(text, "Eae, beleza? \n\n"), cmd)
		assert.Contains(t, text, "Hoje: 7 de 10 disponíveis")
		assert.Contains(t, text, "Este mês: 80 de 100 disponíveis")
		assert.Contains(t, text, "estatísticas detalhadas  \n")
	}
}

func TestInterpret_FixedStatuses(t *testing.T) {
	tests := []struct {
		name string
		resp domain.Response
		want []domain.Reply
	}{
		{
			name: "rate limited passes message through",
			resp: domain.RateLimited{UserID: "u2", Message: "Você atingiu o limite diário."},
			want: []domain.Reply{{To: "u2", Text: "Você atingiu o limite diário."}},
		},
		{
			name: "rate limited without message yields nothing",
			resp: domain.RateLimited{UserID: "u2", Message: " "},
			want: nil,
		},
		{
			name: "error hides backend message",
			resp: domain.BackendError{UserID: "u3", Message: "stack trace"},
			want: []domain.Reply{{To: "u3", Text: FileNotFoundText}},
		},
		{
			name: "script received",
			resp: domain.ScriptReceived{UserID: "u4", Message: "ignored"},
			want: []domain.Reply{{To: "u4", Text: ContextStoredText}},
		},
		{
			name: "doc processed sends two replies in order",
			resp: domain.DocProcessed{UserID: "u5", Script: "Cena 1: abertura"},
			want: []domain.Reply{
				{To: "u5", Text: "Processando seu documento... Aguarde um momento."},
				{To: "u5", Text: "Roteiro gerado com sucesso!\n\nCena 1: abertura"},
			},
		},
		{
			name: "unrecognized status yields nothing",
			resp: domain.Unrecognized{Raw: "queued", UserID: "u6"},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpret(tt.resp))
		})
	}
}

func TestInterpret_RecipientIsBackendUser(t *testing.T) {
	responses := []domain.Response{
		domain.TextReceived{UserID: "x", Stats: sampleStats},
		domain.RateLimited{UserID: "x", Message: "limite"},
		domain.BackendError{UserID: "x"},
		domain.ScriptReceived{UserID: "x"},
		domain.DocProcessed{UserID: "x"},
	}
	for _, resp := range responses {
		replies := Interpret(resp)
		require.NotEmpty(t, replies, resp.Status())
		for _, r := range replies {
			assert.Equal(t, "x", r.To, resp.Status())
		}
	}
}

func TestFallback(t *testing.T) {
	r := Fallback("u9")
	assert.Equal(t, "u9", r.To)
	assert.Equal(t, "❌ Ocorreu um erro ao processar sua mensagem. Tente novamente em alguns minutos.", r.Text)
}
