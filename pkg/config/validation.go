package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("authmode", func(fl validator.FieldLevel) bool {
			m, err := auth.ParseMode(fl.Field().String())
			return err == nil && m.Supported()
		})
		validate.RegisterStructValidation(validateKerberos, SecurityConfig{})
	})
	return validate
}

// Validate checks struct tags plus the cross-field Kerberos rules.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}
	return nil
}

// validateKerberos requires keytab and principal for keytab logins.
func validateKerberos(sl validator.StructLevel) {
	sc := sl.Current().Interface().(SecurityConfig)
	m, err := auth.ParseMode(sc.AuthenticationType)
	if err != nil || m != auth.ModeKerberosKeytab {
		return
	}
	if sc.Kerberos.KeytabFile == "" {
		sl.ReportError(sc.Kerberos.KeytabFile, "Kerberos.KeytabFile", "KeytabFile", "required_for_keytab", "")
	}
	if sc.Kerberos.Principal == "" {
		sl.ReportError(sc.Kerberos.Principal, "Kerberos.Principal", "Principal", "required_for_keytab", "")
	}
}

// ValidationErrors flattens validator errors into "Field: tag" strings for
// CLI output.
func ValidationErrors(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		if err == nil {
			return nil
		}
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return out
}
