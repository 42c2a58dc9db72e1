package compliance

import (
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// RequiredMargin returns the buying power the order must reserve:
//
//	equity, ETF     notional x equity rate
//	option, long    premium x quantity x multiplier
//	option, short   (premium + max(under% x U, floor% x U)) x quantity x multiplier
//	future          notional x multiplier x initial margin rate
//	anything else   notional x default rate
//
// Notional uses ReferencePrice. The strike is not part of the reference
// record, so the short option formula takes no out-of-the-money credit.
func (g *Gate) RequiredMargin(in *Input) decimal.Decimal {
	o, sec := in.Order, in.Security
	price := ReferencePrice(o, in.Quote)
	notional := o.Quantity.Mul(price)

	switch sec.Type {
	case domain.SecurityEquity, domain.SecurityETF:
		return notional.Mul(g.rates.EquityMargin)

	case domain.SecurityOption:
		mult := sec.ContractMultiplier()
		if o.Side.IsBuy() {
			return notional.Mul(mult)
		}
		u := in.UnderlyingPrice
		perShare := price.Add(decimal.Max(u.Mul(g.rates.OptionShortUnder), u.Mul(g.rates.OptionShortFloor)))
		return perShare.Mul(o.Quantity).Mul(mult)

	case domain.SecurityFuture:
		rate := sec.InitialMarginRate
		if !rate.IsPositive() {
			rate = g.rates.FuturesMargin
		}
		return notional.Mul(sec.ContractMultiplier()).Mul(rate)

	default:
		return notional.Mul(g.rates.DefaultMargin)
	}
}
