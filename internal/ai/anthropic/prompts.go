package anthropic

// detectionPrompt asks the model for a calibrated probability in a fixed JSON
// shape so the response can be parsed without free-text heuristics.
const detectionPrompt = `You are an expert in digital image forensics. Decide whether the attached image was generated or substantially altered by an AI image model (diffusion, GAN, or similar) or was captured by a camera or drawn by a person.

Consider:
- Anatomical errors (hands, teeth, ears, eyes, hair boundaries)
- Inconsistent lighting, shadows and reflections
- Garbled or nonsensical text, signage and logos
- Repeating textures, over-smoothed skin, painterly micro-detail
- Background objects that melt into each other or lack structure
- Camera artifacts that are present or conspicuously absent (sensor noise, lens distortion, depth of field)

Be calibrated. Use values near 0.5 when the evidence is weak either way.

**Response Format:**
Return ONLY a JSON object with this exact structure and no other text:

{
  "ai_probability": 0.0,
  "reasoning": "One or two sentences naming the strongest evidence"
}

"ai_probability" is a number from 0 (certainly not AI-generated) to 1 (certainly AI-generated).`
