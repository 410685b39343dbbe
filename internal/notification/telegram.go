package notification

import (
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	internalerrors "github.com/osmetric/devwatch/internal/errors"
)

const (
	maxMessageLength = 4096
	// minMessageInterval is the minimum time between messages to the
	// same channel to stay under Telegram rate limits
	minMessageInterval = 1 * time.Second
	// maxRetries is the maximum number of retry attempts for sending messages
	maxRetries = 3
	// baseRetryDelay is the initial delay between retries (doubles each attempt)
	baseRetryDelay = 2 * time.Second
)

// TelegramClient pushes scan alerts to a Telegram channel.
type TelegramClient struct {
	bot             *tgbotapi.BotAPI
	alertsChannel   int64
	hostname        string
	lastMessageTime time.Time
}

// ScanAlert carries what an abnormal scan reports.
type ScanAlert struct {
	RunID        string
	LogName      string
	EventsFound  int
	DevicesFound int
	Verdict      string
}

// NewTelegramClient creates a new Telegram client
func NewTelegramClient(botToken string, alertsChannel int64) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		// Sanitize so the bot token never appears in error messages
		return nil, internalerrors.Wrapf(err, "failed to create Telegram bot")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &TelegramClient{
		bot:           bot,
		alertsChannel: alertsChannel,
		hostname:      hostname,
	}, nil
}

// SendScanAlert sends an abnormal-pattern alert to the configured
// channel.
func (t *TelegramClient) SendScanAlert(alert ScanAlert) error {
	message := t.formatAlert(alert)

	if err := t.sendToChannel(t.alertsChannel, message); err != nil {
		return fmt.Errorf("failed to send to alerts channel: %w", err)
	}
	return nil
}

// formatAlert formats the scan outcome into a Telegram message
func (t *TelegramClient) formatAlert(alert ScanAlert) string {
	var msg strings.Builder

	msg.WriteString("🚨 *Device Monitor Alert*\n")
	msg.WriteString(fmt.Sprintf("🖥 Host\\: %s\n", escapeMarkdown(t.hostname)))
	msg.WriteString(fmt.Sprintf("📅 Date\\: %s\n", escapeMarkdown(time.Now().Format("2006-01-02 15:04:05"))))
	msg.WriteString(fmt.Sprintf("📒 Log\\: %s\n\n", escapeMarkdown(alert.LogName)))

	msg.WriteString("📋 *Scan Results*\n")
	msg.WriteString(fmt.Sprintf("• Events found\\: %d\n", alert.EventsFound))
	msg.WriteString(fmt.Sprintf("• Devices found\\: %d\n\n", alert.DevicesFound))

	msg.WriteString("🧠 *Verdict*\n")
	msg.WriteString(escapeMarkdown(alert.Verdict))
	msg.WriteString("\n")

	if alert.RunID != "" {
		msg.WriteString(fmt.Sprintf("\nRun\\: %s\n", escapeMarkdown(alert.RunID)))
	}

	return msg.String()
}

// sendToChannel sends a message to a Telegram channel with rate limiting
func (t *TelegramClient) sendToChannel(channelID int64, message string) error {
	messages := t.splitMessage(message)

	for _, msg := range messages {
		t.waitForRateLimit()

		msgConfig := tgbotapi.NewMessage(channelID, msg)
		msgConfig.ParseMode = "MarkdownV2"

		if err := t.sendWithRetry(msgConfig); err != nil {
			return err
		}

		t.lastMessageTime = time.Now()
	}

	return nil
}

// waitForRateLimit ensures the minimum interval between messages
func (t *TelegramClient) waitForRateLimit() {
	if t.lastMessageTime.IsZero() {
		return
	}

	elapsed := time.Since(t.lastMessageTime)
	if elapsed < minMessageInterval {
		time.Sleep(minMessageInterval - elapsed)
	}
}

// sendWithRetry sends a message with exponential backoff retry
func (t *TelegramClient) sendWithRetry(msgConfig tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msgConfig)
		if err == nil {
			return nil
		}

		lastErr = err

		// A 429 carries its own retry_after wait
		if isRateLimitError(err) {
			if retryAfter := extractRetryAfter(err); retryAfter > 0 {
				time.Sleep(time.Duration(retryAfter) * time.Second)
				continue
			}
		}

		if attempt < maxRetries {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 2s, 4s, 8s...
			time.Sleep(delay)
		}
	}

	// Sanitize so credentials never appear in error messages
	return internalerrors.Wrapf(lastErr, "failed to send message after %d retries", maxRetries)
}

// isRateLimitError checks if the error is a Telegram rate limit error (429)
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests")
}

// extractRetryAfter pulls the retry_after seconds out of a rate limit
// error, e.g. "Too Many Requests: retry after 30".
func extractRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	errStr := err.Error()
	if idx := strings.Index(strings.ToLower(errStr), "retry after "); idx != -1 {
		remaining := errStr[idx+len("retry after "):]
		var seconds int
		if _, err := fmt.Sscanf(remaining, "%d", &seconds); err == nil {
			return seconds
		}
	}

	// Conservative wait when the value is missing
	return 30
}

// splitMessage splits a long message into multiple messages
func (t *TelegramClient) splitMessage(message string) []string {
	if len(message) <= maxMessageLength {
		return []string{message}
	}

	var messages []string
	lines := strings.Split(message, "\n")
	var currentMsg strings.Builder

	for _, line := range lines {
		if currentMsg.Len()+len(line)+1 > maxMessageLength {
			if currentMsg.Len() > 0 {
				messages = append(messages, currentMsg.String())
				currentMsg.Reset()
			}

			// A single oversized line gets hard-split
			if len(line) > maxMessageLength {
				for i := 0; i < len(line); i += maxMessageLength {
					end := i + maxMessageLength
					if end > len(line) {
						end = len(line)
					}
					messages = append(messages, line[i:end])
				}
				continue
			}
		}

		currentMsg.WriteString(line)
		currentMsg.WriteString("\n")
	}

	if currentMsg.Len() > 0 {
		messages = append(messages, currentMsg.String())
	}

	return messages
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2
func escapeMarkdown(text string) string {
	// See: https://core.telegram.org/bots/api#markdownv2-style
	specialChars := []string{
		"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", ":",
	}

	result := text
	for _, char := range specialChars {
		result = strings.ReplaceAll(result, char, "\\"+char)
	}

	return result
}

// Close closes the Telegram client
func (t *TelegramClient) Close() error {
	t.bot.StopReceivingUpdates()
	return nil
}
