// Package interpret maps backend responses to the chat replies a user sees.
package interpret

import (
	"fmt"
	"strings"

	"chatrelay/internal/domain"
)

// Fixed reply texts.
const (
	FallbackText      = "❌ Ocorreu um erro ao processar sua mensagem. Tente novamente em alguns minutos."
	FileNotFoundText  = "❌ Arquivo não encontrado."
	ContextStoredText = "Contexto recebido e armazenado com sucesso, será usado nos próximos roteiros que eu gerar p vc!"
	ProcessingDocText = "Processando seu documento... Aguarde um momento."
	scriptReadyPrefix = "Roteiro gerado com sucesso!\n\n"
	commandStats      = "/stats"
	commandHelp       = "/help"
	premiumYes        = "Sim ✅"
	premiumNo         = "Não ❌"
	memberSinceRunes  = 10
)

// Fallback is the uniform apology sent when an event could not be processed.
func Fallback(to string) domain.Reply {
	return domain.Reply{To: to, Text: FallbackText}
}

// Interpret returns the replies for resp, in send order. An unrecognized
// status or a rate limit without a message yields no replies.
func Interpret(resp domain.Response) []domain.Reply {
	if resp == nil {
		return nil
	}
	to := resp.Recipient()

	switch r := resp.(type) {
	case domain.TextReceived:
		return []domain.Reply{{To: to, Text: commandReply(r.Command, r.Stats)}}
	case domain.RateLimited:
		if strings.TrimSpace(r.Message) == "" {
			return nil
		}
		return []domain.Reply{{To: to, Text: r.Message}}
	case domain.BackendError:
		return []domain.Reply{{To: to, Text: FileNotFoundText}}
	case domain.ScriptReceived:
		return []domain.Reply{{To: to, Text: ContextStoredText}}
	case domain.DocProcessed:
		return []domain.Reply{
			{To: to, Text: ProcessingDocText},
			{To: to, Text: scriptReadyPrefix + r.Script},
		}
	default:
		return nil
	}
}

func commandReply(command string, s domain.UserStats) string {
	switch command {
	case commandStats:
		return statsText(s)
	case commandHelp:
		return helpText(s)
	default:
		return greetingText(s)
	}
}

func statsText(s domain.UserStats) string {
	premium := premiumNo
	if s.IsPremium {
		premium = premiumYes
	}
	return fmt.Sprintf("📊 Suas Estatísticas:\n"+
		"📅 Uso Diário: %d/%d (restam %d)\n"+
		"📆 Uso Mensal: %d/%d (restam %d)\n"+
		"👑 Me fez o pix?: %s\n"+
		"📅 Membro desde: %s",
		s.DailyUsed, s.DailyTotal, s.DailyRemaining,
		s.MonthlyUsed, s.MonthlyTotal, s.MonthlyRemaining,
		premium,
		datePart(s.CreatedAt),
	)
}

func helpText(s domain.UserStats) string {
	return fmt.Sprintf("Comandos Disponíveis:\n"+
		"/stats - Ver suas estatísticas de uso\n"+
		"/help - Ver esta mensagem de ajuda\n"+
		"\n"+
		"Seus Limites Atuais:\n"+
		"📅 Diário: %d mensagens restantes hoje\n"+
		"📆 Mensal: %d mensagens restantes este mês\n"+
		"\n"+
		"Como usar:\n"+
		"• Envie briefings que eu gero seu roteiro\n"+
		"• Você tem limites diários e mensais de uso\n"+
		"• Entre em contato com o suporte para upgrade premium",
		s.DailyRemaining, s.MonthlyRemaining,
	)
}

// The trailing spaces after "beleza?" and "detalhadas" are part of the text.
func greetingText(s domain.UserStats) string {
	return fmt.Sprintf("Eae, beleza? \n"+
		"\n"+
		"Seus limites atuais:\n"+
		"Hoje: %d de %d disponíveis\n"+
		"Este mês: %d de %d disponíveis\n"+
		"\n"+
		"Para usar o bot:\n"+
		"• Envie um briefing que eu gero o roteiro p vc!\n"+
		"• Digite /stats para ver estatísticas detalhadas  \n"+
		"• Digite /help para ver todos os comandos",
		s.DailyRemaining, s.DailyTotal,
		s.MonthlyRemaining, s.MonthlyTotal,
	)
}

// datePart keeps the leading YYYY-MM-DD of a timestamp.
func datePart(ts string) string {
	runes := []rune(ts)
	if len(runes) <= memberSinceRunes {
		return ts
	}
	return string(runes[:memberSinceRunes])
}
