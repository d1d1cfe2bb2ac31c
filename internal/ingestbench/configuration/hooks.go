package configuration

import (
	"reflect"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		RuneDecodeHook(),
	)),
}

// RuneDecodeHook decodes a single character string, e.g. ";" or "\t", into a rune.
func RuneDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(rune(0)) {
			return data, nil
		}
		s := data.(string)
		if s == `\t` {
			return '\t', nil
		}
		if utf8.RuneCountInString(s) != 1 {
			return nil, errors.Errorf("expected a single character, got %q", s)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return r, nil
	}
}
