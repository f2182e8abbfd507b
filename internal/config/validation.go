package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if strings.TrimSpace(b.APIURL) == "" {
		return fmt.Errorf("broker.api_url cannot be empty")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("broker.api_key cannot be empty")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.PartialFillPolicy)) {
	case "force_exit", "attach":
	default:
		return fmt.Errorf("execution.partial_fill_policy must be force_exit or attach, got %q", e.PartialFillPolicy)
	}
	if e.PollIntervalMillis >= e.FillTimeoutSeconds*1000 {
		return fmt.Errorf("execution.poll_interval_millis must be shorter than the fill timeout")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	t := n.Telegram
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" || strings.TrimSpace(t.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
	}
	return nil
}
