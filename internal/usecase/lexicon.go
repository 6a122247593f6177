package usecase

// Word lists used by the classifier, the assessment machine and the
// escalation rules. All entries are compared after normalize().

var criticalPhrases = []string{
	"chest pain", "difficulty breathing", "trouble breathing", "cant breathe", "cannot breathe",
	"not breathing", "unconscious", "unresponsive", "heart attack", "stroke", "seizure", "fits",
	"severe bleeding", "heavy bleeding", "bleeding heavily", "choking", "drowning", "overdose",
	"poisoning", "swallowed poison", "snake bite", "suicide", "kill myself", "emergency",
	"anaphylaxis", "blue lips", "fainted",
}

var highPhrases = []string{
	"severe", "severe pain", "very high fever", "high fever", "vomiting blood", "coughing blood",
	"blood in stool", "blood in vomit", "bleeding", "broken bone", "fracture", "deep cut", "burn",
	"head injury", "stiff neck", "confusion", "worst", "unbearable", "dehydrated", "not drinking",
}

// genericSymptoms are extracted as symptom entities even though no profile
// owns them; the profile keywords are canonicalised to the profile symptom.
var genericSymptoms = []string{
	"vomiting", "nausea", "chills", "body ache", "joint pain", "sore throat", "runny nose",
	"dizziness", "dizzy", "weakness", "breathlessness", "wheezing", "chest pain", "sweating",
	"bloating", "heartburn", "constipation", "swelling", "blisters", "back pain", "neck pain",
	"ear pain", "toothache", "fatigue", "tiredness", "burning urine", "blurred vision",
}

var positiveWords = []string{
	"good", "better", "fine", "great", "thanks", "thank", "happy", "relieved", "improving",
	"okay", "ok", "well", "glad",
}

var negativeWords = []string{
	"bad", "worse", "terrible", "awful", "pain", "hurts", "scared", "worried", "afraid",
	"anxious", "sick", "suffering", "unbearable", "horrible", "weak", "miserable",
}

var humanRequestPhrases = []string{
	"talk to a human", "speak to a human", "talk to human", "real person", "human agent",
	"talk to a doctor", "speak to a doctor", "talk to someone", "speak to someone",
	"health worker", "connect me", "call me", "operator", "live agent",
}

// Severity vocabulary, checked in this order.
var (
	mildNegations = []string{
		"not bad", "not severe", "not too bad", "not that bad", "not very bad", "not much",
		"not too much", "not serious", "not strong",
	}
	severeWords = []string{
		"severe", "very severe", "very bad", "worst", "unbearable", "extreme", "extremely",
		"very high", "terrible", "excruciating", "intense", "cant bear", "cannot bear",
		"too much",
	}
	moderateWords = []string{
		"moderate", "medium", "bad", "very hot", "chills", "quite", "high", "strong",
		"significant", "getting worse",
	}
	mildWords = []string{
		"mild", "slight", "slightly", "little", "a bit", "low", "light", "manageable",
		"minor", "okay", "ok",
	}
)

var negativeAnswers = []string{"no", "none", "nothing", "nothing else", "no other", "nope", "not really"}

// symptomSynonyms maps everyday phrasing onto profile vocabulary.
var symptomSynonyms = map[string]string{
	"shivering": "chills", "shivers": "chills", "feeling cold": "chills",
	"body pain": "body ache", "body aches": "body ache", "aching": "body ache",
	"throwing up": "vomiting", "vomit": "vomiting", "vomited": "vomiting", "puking": "vomiting",
	"loose motions": "diarrhea", "loose motion": "diarrhea", "diarrhoea": "diarrhea",
	"short of breath": "breathlessness", "breathless": "breathlessness", "shortness of breath": "breathlessness",
	"sweats": "sweating", "itchy": "itching", "itch": "itching",
	"feel like vomiting": "nausea", "nauseous": "nausea", "queasy": "nausea",
	"joint aches": "joint pain", "blocked nose": "runny nose", "running nose": "runny nose",
	"dizzy": "dizziness", "giddiness": "dizziness", "tired": "weakness", "weak": "weakness",
	"acidity": "heartburn", "gas": "bloating", "swollen": "swelling", "cramps": "stomach cramps",
	"thirsty": "thirst", "bright light hurts": "light sensitivity",
}

var genderWords = map[string]string{
	"male": "male", "man": "male", "boy": "male", "he": "male", "son": "male", "husband": "male",
	"female": "female", "woman": "female", "girl": "female", "she": "female", "daughter": "female", "wife": "female",
}
