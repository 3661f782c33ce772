package services

// Prompt templates sent to the vision and chat models.

const (
	// DIAGNOSIS_PROMPT asks the vision model for a structured diagnosis of one issue
	DIAGNOSIS_PROMPT = `You are a home appliance and household repair expert.
Analyze the provided image/video and description: "%s"
The user says the device is: %s

Return your answer in this exact JSON format:
{
  "device_type": "string",
  "likely_causes": ["string", "string", "string"],
  "safety_warning": "string",
  "troubleshooting_steps": ["string", "string", "string"],
  "recommended_action": "self fix" | "remote consult" | "on site",
  "estimated_cost": "string (INR)"
}

Be concise, simple, and beginner-friendly.`

	// DEVICE_DETECTION_PROMPT asks the vision model to name the appliance in a photo
	DEVICE_DETECTION_PROMPT = `Identify the home appliance in this image.
Also, briefly describe any visible damage or the state of the appliance (e.g., "Washing machine with error code E4", "Refrigerator with door open", "AC unit leaking water").

Return ONLY a JSON object:
{
  "device_type": "Fan" | "Laptop" | "AC" | "Washing Machine" | "Kitchen Appliance" | "Refrigerator" | "Television" | "Water Heater" | "Other",
  "description": "string"
}`

	// ASSISTANT_CONTEXT_PROMPT opens every assisted conversation
	ASSISTANT_CONTEXT_PROMPT = `You are a helpful home repair expert. The user has an issue with their %s. Description: %s. AI Diagnosis: %s`
)
