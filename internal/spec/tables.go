package spec

import "fmt"

// Variant is the routing body a virtual host is rendered with.
type Variant string

const (
	VariantProxy  Variant = "proxy"
	VariantPHP    Variant = "php"
	VariantStatic Variant = "static"
)

var frontendModes = map[AppKind][]FrontendMode{
	KindNext:    {ModeSSR, ModeStandalone, ModeStatic},
	KindNuxt:    {ModeSSR, ModeStatic, ModeSPA},
	KindReact:   {ModeSPA, ModeStatic},
	KindVue:     {ModeSPA, ModeStatic},
	KindAngular: {ModeSPA, ModeStatic},
	KindSvelte:  {ModeSSR, ModeSPA, ModeStatic},
}

// FrontendModes lists the legal modes for a kind, default first. Non-frontend
// kinds only accept ModeNone.
func FrontendModes(kind AppKind) []FrontendMode {
	if modes, ok := frontendModes[kind]; ok {
		return modes
	}
	return []FrontendMode{ModeNone}
}

func DefaultFrontendMode(kind AppKind) FrontendMode {
	return FrontendModes(kind)[0]
}

func ValidFrontendMode(kind AppKind, mode FrontendMode) bool {
	for _, m := range FrontendModes(kind) {
		if m == mode {
			return true
		}
	}
	return false
}

// NeedsProxy reports whether the combination runs a long-lived application
// process behind the web server.
func NeedsProxy(kind AppKind, mode FrontendMode) bool {
	switch kind {
	case KindNode, KindPython, KindProxy:
		return true
	case KindNext:
		return mode == ModeSSR || mode == ModeStandalone
	case KindNuxt, KindSvelte:
		return mode == ModeSSR
	}
	return false
}

type variantKey struct {
	kind  AppKind
	mode  FrontendMode
	proxy bool
}

// variants is the closed mapping from (kind, mode, needsProxy) to a routing
// body. Anything missing here is not a deployable combination.
var variants = map[variantKey]Variant{
	{KindNode, ModeNone, true}:    VariantProxy,
	{KindPython, ModeNone, true}:  VariantProxy,
	{KindProxy, ModeNone, true}:   VariantProxy,
	{KindPHP, ModeNone, false}:    VariantPHP,
	{KindStatic, ModeNone, false}: VariantStatic,

	{KindNext, ModeSSR, true}:        VariantProxy,
	{KindNext, ModeStandalone, true}: VariantProxy,
	{KindNext, ModeStatic, false}:    VariantStatic,

	{KindNuxt, ModeSSR, true}:     VariantProxy,
	{KindNuxt, ModeStatic, false}: VariantStatic,
	{KindNuxt, ModeSPA, false}:    VariantStatic,

	{KindReact, ModeSPA, false}:    VariantStatic,
	{KindReact, ModeStatic, false}: VariantStatic,

	{KindVue, ModeSPA, false}:    VariantStatic,
	{KindVue, ModeStatic, false}: VariantStatic,

	{KindAngular, ModeSPA, false}:    VariantStatic,
	{KindAngular, ModeStatic, false}: VariantStatic,

	{KindSvelte, ModeSSR, true}:     VariantProxy,
	{KindSvelte, ModeSPA, false}:    VariantStatic,
	{KindSvelte, ModeStatic, false}: VariantStatic,
}

// VariantFor maps a combination to its routing body.
func VariantFor(kind AppKind, mode FrontendMode, needsProxy bool) (Variant, error) {
	v, ok := variants[variantKey{kind, mode, needsProxy}]
	if !ok {
		return "", fmt.Errorf("no vhost variant for kind=%s mode=%s needsProxy=%t", kind, mode, needsProxy)
	}
	return v, nil
}

// Kinds returns every supported application kind in display order.
func Kinds() []AppKind {
	return []AppKind{
		KindNode, KindPython, KindPHP,
		KindNext, KindNuxt, KindReact, KindVue, KindAngular, KindSvelte,
		KindStatic, KindProxy,
	}
}
