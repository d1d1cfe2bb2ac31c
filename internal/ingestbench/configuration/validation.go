package configuration

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("encoding", func(fl validator.FieldLevel) bool {
		return IsSupportedEncoding(fl.Field().String())
	})
	return validate
}

func (c IngestBenchConfiguration) Validate() error {
	validate := newValidator()
	if err := validate.Struct(c); err != nil {
		return err
	}

	var err error
	switch c.Backend {
	case BackendPostgres:
		err = validate.Struct(c.Postgres)
	case BackendSql:
		err = validate.Struct(c.Sql)
	case BackendRedis:
		if err = validate.Struct(c.Redis); err == nil {
			err = validate.Struct(c.Redis.Connection)
		}
	case BackendHttp:
		err = validate.Struct(c.Http)
	}
	if err != nil {
		return err
	}
	return c.validateStrategies()
}

// ValidateReceiver checks the settings the serve command needs.
func (c IngestBenchConfiguration) ValidateReceiver() error {
	validate := newValidator()
	if err := validate.Struct(c.Receiver); err != nil {
		return err
	}
	if err := validate.Struct(c.Sql); err != nil {
		return err
	}
	if !slices.Contains(BackendSql.SupportedStrategies(), c.ReceiverStrategy()) {
		return errors.Errorf("strategy %s cannot be used by the receiver", c.ReceiverStrategy())
	}
	return nil
}

// ReceiverStrategy defaults to multi_value.
func (c IngestBenchConfiguration) ReceiverStrategy() sink.Strategy {
	if c.Receiver.Strategy == "" {
		return sink.StrategyMultiValue
	}
	return c.Receiver.Strategy
}

// SelectedStrategies returns the configured strategies, or all the backend supports if none are.
func (c IngestBenchConfiguration) SelectedStrategies() []sink.Strategy {
	if len(c.Strategies) == 0 {
		return c.Backend.SupportedStrategies()
	}
	return c.Strategies
}

func (c IngestBenchConfiguration) validateStrategies() error {
	supported := c.Backend.SupportedStrategies()
	seen := map[sink.Strategy]bool{}
	for _, strategy := range c.Strategies {
		if !slices.Contains(supported, strategy) {
			return errors.Errorf("strategy %s is not supported by backend %s; supported strategies are %v", strategy, c.Backend, supported)
		}
		if seen[strategy] {
			return errors.Errorf("strategy %s is listed more than once", strategy)
		}
		seen[strategy] = true
	}
	return nil
}
