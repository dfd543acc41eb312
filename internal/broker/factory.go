package broker

import (
	"fmt"

	"msgstream/internal/config"
	"msgstream/internal/constants"
	"msgstream/internal/logger"
)

func New(cfg config.BrokerConfig, log logger.Logger) (Bus, error) {
	switch cfg.Type {
	case constants.BrokerKafka:
		return NewKafkaBus(cfg.Kafka, log), nil
	case constants.BrokerRabbitMQ:
		bus, err := NewRabbitMQBus(cfg.RabbitMQ, log)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case constants.BrokerMemory:
		return NewMemoryBus(cfg.Memory.BufferSize), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
