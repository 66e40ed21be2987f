// Package export renders scoring results for people and downstream tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// FlaggedColumns is the header of the flagged claims CSV.
var FlaggedColumns = []string{
	"customer_id",
	"gender",
	"age",
	"car_model_year",
	"annual_premium",
	"total_loss",
	"loss_ratio",
	"risk_score",
	"flags",
}

// WriteFlaggedCSV writes one row per flagged claim, in ranked order. The flags
// column joins the labels of the triggered rules in evaluation order.
func WriteFlaggedCSV(w io.Writer, res *domain.Result, rs *domain.RuleSet) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(FlaggedColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, a := range res.Flagged {
		r := a.Record
		row := []string{
			strconv.FormatInt(r.CustomerID, 10),
			string(r.Gender),
			strconv.Itoa(r.Age),
			strconv.Itoa(r.CarModelYear),
			decimal.NewFromFloat(r.AnnualPremium).StringFixed(2),
			decimal.NewFromFloat(r.TotalLoss).StringFixed(2),
			decimal.NewFromFloat(r.LossRatio()).StringFixed(4),
			strconv.Itoa(a.RiskScore),
			FlagsLabel(a.TriggeredRules, rs),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write customer %d: %w", r.CustomerID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FlagsLabel joins rule labels with commas.
func FlagsLabel(ids []domain.RuleID, rs *domain.RuleSet) string {
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = rs.Label(id)
	}
	return strings.Join(labels, ",")
}
