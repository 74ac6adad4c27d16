package sync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/biter777/countries"
	"github.com/tidwall/gjson"
	"github.com/ttacon/libphonenumber"
)

func init() {

	gjson.AddModifier("phone", func(json, arg string) string {
		countryCode := arg
		number := gjson.Parse(json).String()
		// if present, remove extra " from number
		number = strings.Trim(number, `"`)
		if number == "" {
			return `""`
		}
		// if the default country code is present, keep the number as-is
		if !strings.HasPrefix(number, fmt.Sprintf("+%s", countryCode)) {
			// otherwise try and parse the number using libphonenumber
			i, err := strconv.Atoi(countryCode)
			if err == nil {
				var num *libphonenumber.PhoneNumber
				num, err = libphonenumber.Parse(number, libphonenumber.GetRegionCodeForCountryCode(i))
				if err == nil {
					number = fmt.Sprintf("+%d%s", num.GetCountryCode(), libphonenumber.GetNationalSignificantNumber(num))
				}
			}
			if err != nil {
				return `""`
			}
		}
		return fmt.Sprintf(`"%s"`, number)
	})

	gjson.AddModifier("countryName", func(json, arg string) string {
		s := gjson.Parse(json).String()
		c := countries.ByName(s) // will match on Alpha-2 / Alpha-3 / Name
		if countries.Unknown == c {
			return ""
		}
		return fmt.Sprintf(`"%s"`, c.String()) // returns Country Name
	})

	gjson.AddModifier("now", func(json, arg string) string {
		return fmt.Sprintf(`"%s"`, time.Now().UTC().Format(time.RFC3339))
	})

	gjson.AddModifier("contains", func(json, arg string) string {
		res := gjson.Parse(json)
		if res.IsArray() {
			values := res.Array()
			for _, v := range values {
				if strings.Contains(v.String(), arg) {
					return fmt.Sprintf("%t", true)
				}
			}
			return fmt.Sprintf("%t", false)
		}
		return fmt.Sprintf("%t", strings.Contains(res.String(), arg))
	})

}
