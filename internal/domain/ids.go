package domain

import "github.com/google/uuid"

// NewID devuelve un identificador aleatorio v4, usado para intent_id,
// approved_id y fill_id.
func NewID() string {
	return uuid.New().String()
}

// runNamespace ancla los UUIDs v5 derivados de (run_id, intent_id) para que
// client_order_id sea determinístico: mismo run + mismo intent ⇒ mismo id,
// garantizando que reintentos nunca duplican órdenes en el venue.
var runNamespace = uuid.MustParse("6f6e7472-6164-4572-6420-6b65726e656c")

// ClientOrderID deriva un client_order_id determinístico de (run_id, intent_id).
func ClientOrderID(runID, intentID string) string {
	return uuid.NewSHA1(runNamespace, []byte(runID+":"+intentID)).String()
}
