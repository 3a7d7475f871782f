package executor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/shipment-monitor/internal/protocol"
)

// TemplateService renders outbound WhatsApp message bodies with the
// Liquid template language, caching parsed templates per protocol.
//
// Template context carries logistics fields only. The recipient phone
// number is never part of the render context; it travels separately to
// the gateway call.
type TemplateService struct {
	engine    *liquid.Engine
	templates map[string]string
	cache     sync.Map // map[string]*liquid.Template
}

// Message bodies per protocol. Keyed by protocol ID so a calibrated or
// per-tenant override can replace individual entries without touching code.
var defaultTemplates = map[string]string{
	protocol.ProtocolNoMovement: "Hola {{ customer | default: \"\" }}! Tu pedido con guía {{ guide_number }} " +
		"enviado por {{ carrier | titlecase }} hacia {{ city | titlecase }} lleva " +
		"{{ days_since_movement }} días sin movimiento. Estamos revisando con la transportadora. " +
		"¿Sigues interesado en recibirlo? Responde SÍ para confirmar.",
	protocol.ProtocolAtOffice: "Hola {{ customer | default: \"\" }}! Tu pedido con guía {{ guide_number }} " +
		"está disponible para reclamar en la oficina de {{ carrier | titlecase }} en " +
		"{{ city | titlecase }} desde hace {{ days_since_movement }} días. " +
		"Si no se reclama pronto será devuelto al remitente. ¿Puedes pasar a recogerlo?",
}

// NewTemplateService creates a template service with the built-in
// protocol templates and domain filters registered.
func NewTemplateService() *TemplateService {
	ts := &TemplateService{
		engine:    liquid.NewEngine(),
		templates: defaultTemplates,
	}
	ts.registerFilters()
	return ts
}

func (ts *TemplateService) registerFilters() {
	// Default value filter: {{ customer | default: "" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Title case for carrier and city names: {{ carrier | titlecase }}
	ts.engine.RegisterFilter("titlecase", func(s string) string {
		parts := strings.Fields(strings.ToLower(s))
		for i, p := range parts {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
		return strings.Join(parts, " ")
	})
}

// Render produces the message body for a protocol with the given
// logistics context. Unknown protocol IDs are an error so a misplanned
// action fails loudly instead of sending an empty message.
func (ts *TemplateService) Render(protocolID string, ctx map[string]interface{}) (string, error) {
	src, ok := ts.templates[protocolID]
	if !ok {
		return "", fmt.Errorf("no template for protocol %q", protocolID)
	}

	if cached, ok := ts.cache.Load(protocolID); ok {
		tpl := cached.(*liquid.Template)
		return tpl.RenderString(ctx)
	}

	tpl, err := ts.engine.ParseString(src)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", protocolID, err)
	}
	ts.cache.Store(protocolID, tpl)

	return tpl.RenderString(ctx)
}

// Parse validates a template string, used by the admin preview endpoint.
func (ts *TemplateService) Parse(templateStr string) error {
	_, err := ts.engine.ParseString(templateStr)
	return err
}
