package config

// PaymentConfig holds the Omise API keys and the checkout redirect
// target.  Currency defaults to USD cents; amounts everywhere in the
// system are integer cents.
type PaymentConfig struct {
	PublicKey string
	SecretKey string
	Currency  string
	ReturnURI string
}

// LoadPaymentConfig reads the payment processor settings.
func LoadPaymentConfig() PaymentConfig {
	return PaymentConfig{
		PublicKey: must("OMISE_PUBLIC_KEY"),
		SecretKey: must("OMISE_SECRET_KEY"),
		Currency:  getenv("PAYMENT_CURRENCY", "usd"),
		ReturnURI: must("PAYMENT_RETURN_URI"),
	}
}

// CalendarConfig points at the calendar bridge that receives ICS
// payloads for published sessions.  An empty endpoint disables the
// integration entirely.
type CalendarConfig struct {
	Endpoint string
}

// LoadCalendarConfig reads the calendar bridge settings.
func LoadCalendarConfig() CalendarConfig {
	return CalendarConfig{Endpoint: getenv("CALENDAR_ENDPOINT", "")}
}
