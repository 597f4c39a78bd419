package providers

import (
	"github.com/smallbiznis/yardcraft/internal/providers/payment"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	payment.Module,
)
