// Package signature builds the MD5 tokens the Bancard vPOS API expects on every request.
//
// Each operation concatenates the commerce private key with a fixed, operation specific list
// of fields. The order is part of the gateway contract: a token built in a different order is
// answered with an "invalid token" error that looks like any other business rejection.
package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Generator struct {
	privateKey string
}

func New(privateKey string) *Generator {
	return &Generator{privateKey: privateKey}
}

// FormatAmount renders an amount the way the gateway signs and parses it: two decimals, dot separator.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func (g *Generator) SingleBuy(processID int64, amount decimal.Decimal, currency string) string {
	return g.digest(pid(processID), FormatAmount(amount), currency)
}

func (g *Generator) Confirmation(processID int64, amount decimal.Decimal, currency string) string {
	return g.digest(pid(processID), "confirm", FormatAmount(amount), currency)
}

func (g *Generator) Charge(processID int64, amount decimal.Decimal, currency, aliasToken string) string {
	return g.digest(pid(processID), "charge", FormatAmount(amount), currency, aliasToken)
}

func (g *Generator) NewCard(cardID, userID int64) string {
	return g.digest(strconv.FormatInt(cardID, 10), strconv.FormatInt(userID, 10), "request_new_card")
}

func (g *Generator) UserCards(userID int64) string {
	return g.digest(strconv.FormatInt(userID, 10), "request_user_cards")
}

func (g *Generator) DeleteCard(userID int64, aliasToken string) string {
	return g.digest("delete_card", strconv.FormatInt(userID, 10), aliasToken)
}

// Rollback always signs a zero amount.
func (g *Generator) Rollback(processID int64) string {
	return g.digest(pid(processID), "rollback", "0.00")
}

func (g *Generator) GetConfirmation(processID int64) string {
	return g.digest(pid(processID), "get_confirmation")
}

// VerifyConfirmation checks the token carried by a confirmation webhook.
func (g *Generator) VerifyConfirmation(token string, processID int64, amount decimal.Decimal, currency string) bool {
	expected := g.Confirmation(processID, amount, currency)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(token)), []byte(expected)) == 1
}

func (g *Generator) digest(fields ...string) string {
	var b strings.Builder
	b.WriteString(g.privateKey)
	for _, f := range fields {
		b.WriteString(f)
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func pid(processID int64) string {
	return strconv.FormatInt(processID, 10)
}
