package funnel

import (
	"fmt"

	"github.com/outletmedia/sales-ai-platform/internal/conversation"
)

// Canned Spanish replies. The orchestrator may rewrite the prompt through
// the language model; these are the deterministic fallback and the text
// used in tests.
const (
	replyGreeting = "¡Hola! Soy el asistente de Outlet Media. Ayudamos a negocios como el tuyo a conseguir más clientes. ¿Cómo te llamas?"

	replyAskName   = "¡Con gusto te ayudo! Para empezar, ¿me compartes tu nombre?"
	replyAskGoal   = "Entiendo. ¿Y qué te gustaría lograr en los próximos meses?"
	replyAskBudget = "Tiene mucho sentido. ¿Qué presupuesto mensual tienes pensado invertir para lograrlo?"
	replyAskEmail  = "¡Perfecto! ¿A qué correo te enviamos la invitación con los detalles?"

	replyNurture    = "Gracias por compartirlo. Nuestros planes inician en una inversión mayor, así que por ahora te enviaremos recursos gratuitos para ayudarte a crecer. ¡Seguimos en contacto!"
	replyNurtureAck = "¡Gracias por escribirnos! Te seguiremos compartiendo recursos útiles para tu negocio."

	replyCheckingCalendar = "¡Excelente! Déjame revisar la agenda disponible y te comparto unos horarios."
	replyBookedAck        = "¡Gracias por tu mensaje! Tu cita ya está confirmada; ahí nos vemos."
)

func askProblem(name string) string {
	if name == "" {
		return "Cuéntame, ¿cuál es el principal reto de tu negocio en este momento?"
	}
	return fmt.Sprintf("Mucho gusto, %s. Cuéntame, ¿cuál es el principal reto de tu negocio en este momento?", name)
}

// prompt returns the canned question for the step the funnel lands on.
func (m *Machine) prompt(step conversation.Step, lead conversation.LeadInfo) string {
	switch step {
	case conversation.StepGreeting:
		return replyGreeting
	case conversation.StepGettingName:
		return replyAskName
	case conversation.StepGettingProblem:
		return askProblem(lead.Name)
	case conversation.StepGettingGoal:
		return replyAskGoal
	case conversation.StepGettingBudget:
		return replyAskBudget
	case conversation.StepGettingEmail:
		return replyAskEmail
	case conversation.StepCompleted:
		return replyBookedAck
	}
	return replyAskName
}
