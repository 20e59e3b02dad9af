package conf

/*
   This is a package that wraps viper, a package designed to handle config
   files, for the RAF app. This package will go through three different stages.

   1. Local env looks primarily at conf package for variables, but will also look
   in the environment for any variables it is not tracking. PROD/TEST/DEV will
   only look in the environment. (WE ARE HERE NOW)

   2. Local env will only look at conf package. PROD/TEST/DEV will look at both.

   3. All env will look at the conf package.

   Assumptions:
   1. The configuration file is a env file
   2. The configuration file, once it is made available to the application,
   will stay immutable during the uptime of the application (exception is test)
*/

import (
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/spf13/viper"
)

// An instance of the viper struct containing the conf information. Only made
// accessible through public functions GetEnv, SetEnv, etc.
var envVars viper.Viper

// Implementing a state machine tracking how things are going in this package
// This state machine should go away when in stage 3.
const (
	configgood    uint8 = 0
	configbad     uint8 = 1
	noconfigfound uint8 = 2
)

var state uint8 = configgood // if config file found and loaded, doesn't change

/*
   This is the private helper function that sets up viper. This function is
   called by the init() function once during initialization of the package.
*/
func setup(dir string) *viper.Viper {

	// Viper setup
	var v = viper.New()
	v.SetConfigName("local")
	v.SetConfigType("env")
	v.AddConfigPath(dir)
	// Viper is lazy, do the read and parse of the config file
	var err = v.ReadInConfig()

	// If viper cannot read the configuration file...
	if err != nil {
		state = configbad
	}

	return v

}

/*
   init:
   First thing to run when this package is loaded by the binary.
   Even if multiple packages import conf, this will be called and ran ONLY once.
*/
func init() {

	// Possible config file locations: local and PROD/DEV/TEST respectively.
	var locationSlice = [2]string{
		"/go/src/github.com/CMSgov/raf-app/shared_files/decrypted",
		"raf/etc",
	}

	if success, loc := findEnv(locationSlice[:]); success {
		// A config file found, set up viper using that location
		envVars = *setup(loc)
	} else {
		// Checked both locations, no config file found
		state = noconfigfound
	}
}

/*
   findEnv is a helper function that will determine what environment the application
   is running in: local or PROD/TEST/DEV. Each environment should have a distinct
   path where the configuration file is located. First it checks the local path,
   then the PROD/DEV/TEST. If both not found, defaults to just using env vars.
*/
func findEnv(location []string) (bool, string) {

	// Check if the configuration file exists
	if _, err := os.Stat(location[0] + "/local.env"); err == nil {
		return true, location[0]
	}

	// Base case: checked both locations and no configurations found
	if len(location) == 1 {
		return false, ""
	}

	// Check the next index of slice location
	return findEnv(location[1:])
}

// GetEnv is a public function that retrieves value stored in conf. If it does not exist
// "" empty string is returned.
func GetEnv(key string) string {

	// If the configuration file is good, use the config file
	if state == configgood {

		var value = envVars.GetString(key)
		var b bool

		// Even if the config file is loaded, if the key doesn't exist in conf,
		// try the environment. This technically makes the application mutable
		// and same as before. See doc-string at top of file to see why.
		if value == "" {
			// Copy it over to conf to prevent additional OS calls.
			// Remember to delete both from conf and environment var when UnsetEnv() called!
			value, b = os.LookupEnv(key)

			// Ensure the variable does exist before copy
			if b {
				test := &testing.T{}
				var _ = SetEnv(test, key, value)
			}

		}

		return value
	}

	// Config file not good, so default to environment... boo >:(
	return os.Getenv(key)

}

// LookupEnv is a public function that augments os.LookupEnv to look in the viper struct first
func LookupEnv(key string) (string, bool) {

	if state == configgood {
		// If the key value exists in conf...
		if value := envVars.Get(key); value != nil && value != "" {
			return value.(string), true
		} else {
			// If it does not exist in conf, check os
			if v, exist := os.LookupEnv(key); exist {
				// bring value over to conf
				test := &testing.T{}
				var _ = SetEnv(test, key, v)
				return v, exist
			}
		}

		return "", false
	}

	return os.LookupEnv(key)

}

// SetEnv is a public function that adds key values into conf. This function should only be used
// either in this package itself or testing. Protect parameter is type *testing.T, and is there
// to ensure developers knowingly use it in the appropriate scope.
func SetEnv(protect *testing.T, key string, value string) error {

	var err error

	// If config is good, change the config in memory
	if state == configgood {
		envVars.Set(key, value) // This doesn't return anything...
	} else {
		// Config is bad, change the EV
		err = os.Setenv(key, value)
	}

	return err

}

// UnsetEnv is a public function that "unsets" a variable. Like SetEnv, this should only be used
// either in this package itself or testing.
func UnsetEnv(protect *testing.T, key string) error {
	var err error

	// If config is good, change the conf in memory
	if state == configgood {
		envVars.Set(key, "")
	}

	// Unset the environment variable too, since GetEnv may have copied it into conf.
	err = os.Unsetenv(key)

	return err

}

// Checkout populates the given target from conf. A pointer to a struct fills
// each settable string field, keyed by the field name or its `conf:"KEY"` tag
// ("-" skips the field; embedded structs are traversed). A slice of strings is
// treated as a list of keys and each element is replaced with its value.
// Non-string fields are left untouched so callers can mix typed fields in.
func Checkout(v interface{}) error {

	value := reflect.ValueOf(v)

	switch value.Kind() {
	case reflect.Ptr:
		if value.Elem().Kind() != reflect.Struct {
			return errors.New("pointer target of conf.Checkout must be a struct")
		}
		checkoutStruct(value.Elem())
		return nil
	case reflect.Slice:
		// A slice header already references its backing array; a pointer to
		// one is a caller mistake.
		if value.Type().Elem().Kind() != reflect.String {
			return errors.New("slice target of conf.Checkout must be []string")
		}
		for i := 0; i < value.Len(); i++ {
			value.Index(i).SetString(GetEnv(value.Index(i).String()))
		}
		return nil
	default:
		return errors.New("conf.Checkout accepts a struct pointer or a []string")
	}

}

func checkoutStruct(s reflect.Value) {
	t := s.Type()
	for i := 0; i < s.NumField(); i++ {
		field, fieldType := s.Field(i), t.Field(i)

		if field.Kind() == reflect.Struct && fieldType.Anonymous {
			checkoutStruct(field)
			continue
		}
		if !field.CanSet() || field.Kind() != reflect.String {
			continue
		}

		key := fieldType.Name
		if tag, ok := fieldType.Tag.Lookup("conf"); ok {
			if tag == "-" {
				continue
			}
			key = tag
		}

		if v, ok := LookupEnv(key); ok {
			field.SetString(v)
		}
	}
}
