package payloads

import (
	"errors"

	"github.com/justprosound/devreg/pkg/models"
)

var (
	ErrMissingNATSURL      = errors.New("nats_url is required")
	ErrMissingStreamName   = errors.New("stream_name is required")
	ErrMissingConsumerName = errors.New("consumer_name is required")
)

// ConsumerConfig configures one manufacturer's payload consumer. Each
// manufacturer subject gets its own consumer instance so a slow or broken
// feed never stalls the others.
type ConsumerConfig struct {
	NATSURL      string `json:"nats_url"`
	Subject      string `json:"subject"`
	StreamName   string `json:"stream_name"`
	ConsumerName string `json:"consumer_name"`
	Domain       string `json:"domain"`

	// Manufacturer tags payloads that arrive without an envelope tag.
	Manufacturer string `json:"manufacturer"`
}

func (c *ConsumerConfig) Validate() error {
	var errs []error

	if c.NATSURL == "" {
		errs = append(errs, ErrMissingNATSURL)
	}

	if c.StreamName == "" {
		errs = append(errs, ErrMissingStreamName)
	}

	if c.ConsumerName == "" {
		errs = append(errs, ErrMissingConsumerName)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if c.Manufacturer == "" {
		c.Manufacturer = models.ManufacturerUnknown
	}

	return nil
}
