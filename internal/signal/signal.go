// Package signal defines the trading decision the engine consumes and
// validates inbound decision payloads before they reach the order path. The
// engine trusts a Decision completely, so everything is checked here.
package signal

import (
	"fmt"
	"strings"

	"tradesentry/internal/broker"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Decision is one fully-specified trading intent from the strategy layer.
type Decision struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Side     string  `json:"side"` // BUY | SELL
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price,omitempty"`     // limit price; 0 means market
	StopLoss float64 `json:"stop_loss,omitempty"` // protective stop level
	Target   float64 `json:"target,omitempty"`
}

// BrokerSide converts the decision side to the broker enum.
func (d Decision) BrokerSide() broker.Side {
	if strings.EqualFold(d.Side, "SELL") {
		return broker.SideSell
	}
	return broker.SideBuy
}

const decisionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["symbol", "side", "quantity"],
	"properties": {
		"symbol":    {"type": "string", "minLength": 1},
		"exchange":  {"type": "string"},
		"side":      {"type": "string", "enum": ["BUY", "SELL", "buy", "sell"]},
		"quantity":  {"type": "integer", "minimum": 1},
		"price":     {"type": "number", "minimum": 0},
		"stop_loss": {"type": "number", "minimum": 0},
		"target":    {"type": "number", "minimum": 0}
	}
}`

var compiledSchema = jsonschema.MustCompileString("decision.json", decisionSchema)

// Parse validates raw decision JSON and returns the decoded Decision.
func Parse(raw string) (Decision, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Decision{}, fmt.Errorf("decision payload is empty")
	}
	if !gjson.Valid(raw) {
		return Decision{}, fmt.Errorf("decision payload is not valid JSON")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return Decision{}, fmt.Errorf("decision payload must be a JSON object")
	}
	if err := compiledSchema.Validate(parsed.Value()); err != nil {
		return Decision{}, fmt.Errorf("decision schema validation failed: %w", err)
	}
	d := Decision{
		Symbol:   strings.ToUpper(strings.TrimSpace(parsed.Get("symbol").String())),
		Exchange: strings.ToUpper(strings.TrimSpace(parsed.Get("exchange").String())),
		Side:     strings.ToUpper(strings.TrimSpace(parsed.Get("side").String())),
		Quantity: int(parsed.Get("quantity").Int()),
		Price:    parsed.Get("price").Float(),
		StopLoss: parsed.Get("stop_loss").Float(),
		Target:   parsed.Get("target").Float(),
	}
	if d.Exchange == "" {
		d.Exchange = "NSE"
	}
	return d, Validate(d)
}

// Validate applies the semantic checks the schema cannot express.
func Validate(d Decision) error {
	if d.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", d.Quantity)
	}
	switch d.Side {
	case "BUY", "SELL":
	default:
		return fmt.Errorf("side must be BUY or SELL, got %q", d.Side)
	}
	if d.StopLoss > 0 && d.Price > 0 {
		if d.Side == "BUY" && d.StopLoss >= d.Price {
			return fmt.Errorf("buy stop loss %.2f must be below entry %.2f", d.StopLoss, d.Price)
		}
		if d.Side == "SELL" && d.StopLoss <= d.Price {
			return fmt.Errorf("sell stop loss %.2f must be above entry %.2f", d.StopLoss, d.Price)
		}
	}
	if d.Target > 0 && d.Price > 0 {
		if d.Side == "BUY" && d.Target <= d.Price {
			return fmt.Errorf("buy target %.2f must be above entry %.2f", d.Target, d.Price)
		}
		if d.Side == "SELL" && d.Target >= d.Price {
			return fmt.Errorf("sell target %.2f must be below entry %.2f", d.Target, d.Price)
		}
	}
	return nil
}
