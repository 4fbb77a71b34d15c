package openid

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prdatur/soopfw-openid/internal/model"
)

func TestAppendExtensionParams(t *testing.T) {
	redirect, err := appendExtensionParams(
		"https://op.example/auth?openid.mode=checkid_setup&openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0",
		[]string{"contact/internet/email"},
		[]string{"namePerson/friendly", "contact/city/home"},
	)
	if err != nil {
		t.Fatalf("appendExtensionParams: %v", err)
	}

	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("invalid URL: %v", err)
	}
	if u.Host != "op.example" || u.Path != "/auth" {
		t.Errorf("endpoint changed: %s", redirect)
	}
	q := u.Query()

	want := map[string]string{
		"openid.mode":                           "checkid_setup",
		"openid.ns.ax":                          nsAX,
		"openid.ax.mode":                        "fetch_request",
		"openid.ax.type.contact_internet_email": "http://axschema.org/contact/internet/email",
		"openid.ax.type.namePerson_friendly":    "http://axschema.org/namePerson/friendly",
		"openid.ax.type.contact_city_home":      "http://axschema.org/contact/city/home",
		"openid.ax.required":                    "contact_internet_email",
		"openid.ax.if_available":                "namePerson_friendly,contact_city_home",
		"openid.ns.sreg":                        nsSReg11,
		"openid.sreg.required":                  "email",
		"openid.sreg.optional":                  "nickname",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestAppendExtensionParams_NoSRegEquivalent(t *testing.T) {
	redirect, err := appendExtensionParams("https://op.example/auth", nil, []string{"contact/phone/fax"})
	if err != nil {
		t.Fatalf("appendExtensionParams: %v", err)
	}
	if strings.Contains(redirect, "sreg") {
		t.Errorf("sreg parameters added without sreg fields: %s", redirect)
	}
	if strings.Contains(redirect, "openid.ax.required") {
		t.Errorf("empty required list was sent: %s", redirect)
	}
}

// assertion はid_resのパラメータを組み立てる。
func assertion(signed string, extra map[string]string) url.Values {
	v := url.Values{}
	v.Set("openid.ns", "http://specs.openid.net/auth/2.0")
	v.Set("openid.mode", "id_res")
	v.Set("openid.claimed_id", "https://op.example/alice")
	v.Set("openid.signed", signed)
	for k, val := range extra {
		v.Set(k, val)
	}
	return v
}

func TestParseAttributes_AXSignedOnly(t *testing.T) {
	params := assertion(
		"claimed_id,ns.ext1,ext1.mode,ext1.type.email,ext1.value.email,ext1.type.nick,ext1.value.nick",
		map[string]string{
			"openid.ns.ext1":          nsAX,
			"openid.ext1.mode":        "fetch_response",
			"openid.ext1.type.email":  "http://axschema.org/contact/internet/email",
			"openid.ext1.value.email": "a@x.com",
			"openid.ext1.type.nick":   "http://axschema.org/namePerson/friendly",
			"openid.ext1.value.nick":  "alice99",
			// 署名対象外の値は採用しない
			"openid.ext1.type.city":  "http://axschema.org/contact/city/home",
			"openid.ext1.value.city": "Injected",
		},
	)

	got := parseAttributes(params)
	want := model.Attributes{
		{Key: "contact/internet/email", Value: "a@x.com"},
		{Key: "namePerson/friendly", Value: "alice99"},
	}
	if len(got) != len(want) {
		t.Fatalf("attributes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attributes[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseAttributes_OrderFollowsSignedList(t *testing.T) {
	params := assertion(
		"ax.type.b,ax.value.b,ax.type.a,ax.value.a",
		map[string]string{
			"openid.ns.ax":      nsAX,
			"openid.ax.type.a":  "http://axschema.org/namePerson",
			"openid.ax.value.a": "Full Name",
			"openid.ax.type.b":  "http://axschema.org/namePerson/first",
			"openid.ax.value.b": "First",
		},
	)

	got := parseAttributes(params)
	if len(got) != 2 || got[0].Key != "namePerson/first" || got[1].Key != "namePerson" {
		t.Errorf("attributes = %+v, want namePerson/first then namePerson", got)
	}
}

func TestParseAttributes_UnsignedTypeIgnored(t *testing.T) {
	params := assertion(
		"ax.value.email",
		map[string]string{
			"openid.ns.ax":          nsAX,
			"openid.ax.type.email":  "http://axschema.org/contact/internet/email",
			"openid.ax.value.email": "a@x.com",
		},
	)
	if got := parseAttributes(params); len(got) != 0 {
		t.Errorf("attributes = %+v, want none (type not signed)", got)
	}
}

func TestParseAttributes_MultiValueTakesFirst(t *testing.T) {
	params := assertion(
		"ax.type.email,ax.count.email,ax.value.email.1,ax.value.email.2",
		map[string]string{
			"openid.ns.ax":            nsAX,
			"openid.ax.type.email":    "http://axschema.org/contact/internet/email",
			"openid.ax.count.email":   "2",
			"openid.ax.value.email.1": "first@x.com",
			"openid.ax.value.email.2": "second@x.com",
		},
	)
	got := parseAttributes(params)
	if len(got) != 1 || got[0].Value != "first@x.com" {
		t.Errorf("attributes = %+v, want first@x.com only", got)
	}
}

func TestParseAttributes_SRegFallback(t *testing.T) {
	params := assertion(
		"ns.sreg,sreg.nickname,sreg.email,sreg.country,sreg.gender",
		map[string]string{
			"openid.ns.sreg":       nsSReg11,
			"openid.sreg.nickname": "bob",
			"openid.sreg.email":    "b@x.com",
			"openid.sreg.country":  "JP",
			"openid.sreg.gender":   "M",
		},
	)

	got := parseAttributes(params)
	want := model.Attributes{
		{Key: "namePerson/friendly", Value: "bob"},
		{Key: "contact/internet/email", Value: "b@x.com"},
		{Key: "contact/country/home", Value: "JP"},
	}
	if len(got) != len(want) {
		t.Fatalf("attributes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("attributes[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseAttributes_AXPreferredOverSReg(t *testing.T) {
	params := assertion(
		"ax.type.email,ax.value.email,sreg.email,sreg.nickname",
		map[string]string{
			"openid.ns.ax":          nsAX,
			"openid.ax.type.email":  "http://axschema.org/contact/internet/email",
			"openid.ax.value.email": "ax@x.com",
			"openid.ns.sreg":        nsSReg10,
			"openid.sreg.email":     "sreg@x.com",
			"openid.sreg.nickname":  "nick",
		},
	)

	got := parseAttributes(params)
	if v, _ := got.Get("contact/internet/email"); v != "ax@x.com" {
		t.Errorf("email = %q, want AX value", v)
	}
	if v, _ := got.Get("namePerson/friendly"); v != "nick" {
		t.Errorf("nickname = %q, want SREG value", v)
	}
	if got.Len() != 2 {
		t.Errorf("attributes = %+v, want 2 entries", got)
	}
}

func TestParseAttributes_DuplicateNamespaceUsesSignedAlias(t *testing.T) {
	extra := map[string]string{
		"openid.ns.ax":            nsAX,
		"openid.ax.type.email":    "http://axschema.org/contact/internet/email",
		"openid.ax.value.email":   "signed@x.com",
		"openid.ns.ext2":          nsAX,
		"openid.ext2.type.email":  "http://axschema.org/contact/internet/email",
		"openid.ext2.value.email": "other@x.com",
	}
	signed := "ns.ax,ax.type.email,ax.value.email,ext2.type.email,ext2.value.email"

	// mapの走査順に依存しないことを確認するため繰り返す
	for i := 0; i < 20; i++ {
		got := parseAttributes(assertion(signed, extra))
		if v, _ := got.Get("contact/internet/email"); v != "signed@x.com" {
			t.Fatalf("email = %q, want value of the alias whose namespace is signed", v)
		}
	}
}

func TestParseAttributes_AmbiguousNamespaceIgnored(t *testing.T) {
	tests := []struct {
		name   string
		signed string
	}{
		{name: "どちらの宣言も署名対象外", signed: "ax.type.email,ax.value.email,ext2.type.email,ext2.value.email"},
		{name: "両方の宣言が署名対象", signed: "ns.ax,ns.ext2,ax.type.email,ax.value.email,ext2.type.email,ext2.value.email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := assertion(tt.signed, map[string]string{
				"openid.ns.ax":            nsAX,
				"openid.ax.type.email":    "http://axschema.org/contact/internet/email",
				"openid.ax.value.email":   "a@x.com",
				"openid.ns.ext2":          nsAX,
				"openid.ext2.type.email":  "http://axschema.org/contact/internet/email",
				"openid.ext2.value.email": "b@x.com",
			})
			if got := parseAttributes(params); got.Len() != 0 {
				t.Errorf("attributes = %+v, want none", got)
			}
		})
	}
}

func TestParseAttributes_DuplicateSRegNamespaceIgnored(t *testing.T) {
	params := assertion("sreg.email,s2.email", map[string]string{
		"openid.ns.sreg":    nsSReg11,
		"openid.sreg.email": "a@x.com",
		"openid.ns.s2":      nsSReg10,
		"openid.s2.email":   "b@x.com",
	})
	if got := parseAttributes(params); got.Len() != 0 {
		t.Errorf("attributes = %+v, want none", got)
	}
}

func TestParseAttributes_NotIDRes(t *testing.T) {
	params := assertion("ax.type.email,ax.value.email", map[string]string{
		"openid.ns.ax":          nsAX,
		"openid.ax.type.email":  "http://axschema.org/contact/internet/email",
		"openid.ax.value.email": "a@x.com",
	})
	params.Set("openid.mode", "cancel")
	if got := parseAttributes(params); got != nil {
		t.Errorf("attributes = %+v, want nil", got)
	}
}

func TestOpenIDParams_FiltersAndReadsPostForm(t *testing.T) {
	form := url.Values{}
	form.Set("openid.mode", "id_res")
	form.Set("csrf", "token")
	req := httptest.NewRequest("POST", "/openid/callback?openid.ns=http%3A%2F%2Fspecs.openid.net%2Fauth%2F2.0", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	params := openidParams(req)
	if params.Get("openid.mode") != "id_res" {
		t.Errorf("openid.mode = %q", params.Get("openid.mode"))
	}
	if params.Get("openid.ns") == "" {
		t.Error("query parameters were not included")
	}
	if _, ok := params["csrf"]; ok {
		t.Error("non-openid parameter leaked")
	}
}
