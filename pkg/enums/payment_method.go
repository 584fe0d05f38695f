package enums

// PaymentMethod tags how a transaction was collected.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
)

func (p PaymentMethod) String() string {
	return string(p)
}
