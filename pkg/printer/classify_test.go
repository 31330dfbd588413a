package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySupplyThresholds(t *testing.T) {
	tests := []struct {
		name  string
		toner map[string]string
		drums map[string]string
		want  Status
	}{
		{name: "9 percent is error", toner: map[string]string{"Black Toner": "9%"}, want: StatusError},
		{name: "10 percent is warning band", toner: map[string]string{"Black Toner": "10%"}, want: StatusWarning},
		{name: "19 percent is warning", toner: map[string]string{"Black Toner": "19%"}, want: StatusWarning},
		{name: "20 percent is ok", toner: map[string]string{"Black Toner": "20%"}, want: StatusOK},
		{name: "low drum is error", drums: map[string]string{"Drum Unit": "5%"}, want: StatusError},
		{name: "worst supply wins", toner: map[string]string{"Cyan Toner": "80%", "Black Toner": "3%"}, want: StatusError},
		{name: "non-percentage values are skipped", toner: map[string]string{"Black Toner": "OK", "Cyan Toner": "Unknown"}, want: StatusOK},
		{name: "invalid values are skipped", toner: map[string]string{"Black Toner": "Invalid"}, want: StatusOK},
		{name: "empty state is ok", want: StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(nil, tt.toner, tt.drums))
		})
	}
}

func TestClassifyErrorsDominateSupplies(t *testing.T) {
	fullToner := map[string]string{"Black Toner": "100%"}

	t.Run("critical error forces Error", func(t *testing.T) {
		errs := map[string]string{"Fuser failure": SeverityCritical}
		assert.Equal(t, StatusError, Classify(errs, fullToner, nil))
	})

	t.Run("non-critical error forces Warning", func(t *testing.T) {
		errs := map[string]string{"Tray 2 empty": SeverityWarning}
		assert.Equal(t, StatusWarning, Classify(errs, fullToner, nil))
	})

	t.Run("critical outranks other error severities", func(t *testing.T) {
		errs := map[string]string{
			"Tray 2 empty": SeverityWarning,
			"Paper jam":    SeverityCritical,
		}
		assert.Equal(t, StatusError, Classify(errs, fullToner, nil))
	})

	t.Run("errors checked before low supplies", func(t *testing.T) {
		errs := map[string]string{"Tray 2 empty": SeverityWarning}
		lowToner := map[string]string{"Black Toner": "5%"}
		assert.Equal(t, StatusWarning, Classify(errs, lowToner, nil))
	})
}
